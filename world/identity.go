package world

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// Canonical renders the world into a canonical textual form: the world
// name, then every import and export in declaration order, with each
// named type expanded to its full structure. Structurally identical
// worlds produce identical bytes, so renaming a type, reordering a
// field, or widening a parameter all change the output.
func Canonical(w *wit.World) ([]byte, error) {
	if w == nil {
		return nil, errors.InvalidWorld("no world selected")
	}

	c := &canonicalizer{visiting: make(map[*wit.TypeDef]bool)}
	c.b.WriteString("world ")
	c.b.WriteString(w.Name)
	c.b.WriteByte('\n')

	for key, item := range w.Imports.All() {
		if err := c.worldItem("import", key, item); err != nil {
			return nil, err
		}
	}
	for key, item := range w.Exports.All() {
		if err := c.worldItem("export", key, item); err != nil {
			return nil, err
		}
	}
	return []byte(c.b.String()), nil
}

// Identity hashes the canonical form. Two builds share an identity
// exactly when their worlds canonicalize identically; snapshot images
// and artifact sections are keyed by it.
func Identity(w *wit.World) ([sha256.Size]byte, error) {
	data, err := Canonical(w)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

type canonicalizer struct {
	b        strings.Builder
	visiting map[*wit.TypeDef]bool
}

func (c *canonicalizer) worldItem(dir, key string, item wit.WorldItem) error {
	switch it := item.(type) {
	case *wit.Interface:
		c.b.WriteString(dir)
		c.b.WriteString(" interface ")
		c.b.WriteString(interfaceName(it, key))
		c.b.WriteByte('\n')
		for _, td := range it.TypeDefs.All() {
			if err := c.namedType(td); err != nil {
				return err
			}
		}
		for _, f := range it.Functions.All() {
			if err := c.function(f); err != nil {
				return err
			}
		}
		return nil
	case *wit.Function:
		c.b.WriteString(dir)
		c.b.WriteByte(' ')
		return c.function(it)
	case *wit.TypeDef:
		c.b.WriteString(dir)
		c.b.WriteByte(' ')
		return c.namedType(it)
	default:
		return errors.InvalidWorld("world item %q has unsupported kind %T", key, item)
	}
}

func (c *canonicalizer) namedType(td *wit.TypeDef) error {
	c.b.WriteString("type ")
	c.b.WriteString(typeName(td))
	c.b.WriteString(" = ")
	if err := c.typeDef(td); err != nil {
		return err
	}
	c.b.WriteByte('\n')
	return nil
}

func (c *canonicalizer) function(f *wit.Function) error {
	c.b.WriteString("func ")
	c.b.WriteString(f.Name)
	c.b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			c.b.WriteString(", ")
		}
		c.b.WriteString(p.Name)
		c.b.WriteString(": ")
		if err := c.typ(p.Type); err != nil {
			return err
		}
	}
	c.b.WriteByte(')')
	if f.Result != nil {
		c.b.WriteString(" -> ")
		if err := c.typ(f.Result); err != nil {
			return err
		}
	}
	c.b.WriteByte('\n')
	return nil
}

func (c *canonicalizer) typ(t wit.Type) error {
	switch tt := t.(type) {
	case nil:
		return errors.InvalidWorld("missing type in canonical form")
	case wit.Bool:
		c.b.WriteString("bool")
	case wit.U8:
		c.b.WriteString("u8")
	case wit.U16:
		c.b.WriteString("u16")
	case wit.U32:
		c.b.WriteString("u32")
	case wit.U64:
		c.b.WriteString("u64")
	case wit.S8:
		c.b.WriteString("s8")
	case wit.S16:
		c.b.WriteString("s16")
	case wit.S32:
		c.b.WriteString("s32")
	case wit.S64:
		c.b.WriteString("s64")
	case wit.F32:
		c.b.WriteString("f32")
	case wit.F64:
		c.b.WriteString("f64")
	case wit.Char:
		c.b.WriteString("char")
	case wit.String:
		c.b.WriteString("string")
	case *wit.TypeDef:
		return c.typeDefRef(tt)
	default:
		return errors.InvalidWorld("type has unsupported kind %T", t)
	}
	return nil
}

// typeDefRef expands a type definition in place, prefixed with its name
// when it has one. The visiting set catches definitions that reach
// themselves, which the component model forbids.
func (c *canonicalizer) typeDefRef(td *wit.TypeDef) error {
	if c.visiting[td] {
		return errors.InvalidWorld("type %s is recursive", typeName(td))
	}
	c.visiting[td] = true
	defer delete(c.visiting, td)

	if td.Name != nil {
		c.b.WriteString(*td.Name)
		c.b.WriteByte('=')
	}
	return c.typeDef(td)
}

func (c *canonicalizer) typeDef(td *wit.TypeDef) error {
	switch k := td.Kind.(type) {
	case *wit.Record:
		c.b.WriteString("record{")
		for i, f := range k.Fields {
			if i > 0 {
				c.b.WriteString(", ")
			}
			c.b.WriteString(f.Name)
			c.b.WriteString(": ")
			if err := c.typ(f.Type); err != nil {
				return err
			}
		}
		c.b.WriteByte('}')
	case *wit.Tuple:
		c.b.WriteString("tuple<")
		for i, t := range k.Types {
			if i > 0 {
				c.b.WriteString(", ")
			}
			if err := c.typ(t); err != nil {
				return err
			}
		}
		c.b.WriteByte('>')
	case *wit.Enum:
		c.b.WriteString("enum{")
		for i, name := range k.Cases {
			if i > 0 {
				c.b.WriteString(", ")
			}
			c.b.WriteString(name.Name)
		}
		c.b.WriteByte('}')
	case *wit.Variant:
		c.b.WriteString("variant{")
		for i, cs := range k.Cases {
			if i > 0 {
				c.b.WriteString(", ")
			}
			c.b.WriteString(cs.Name)
			if cs.Type != nil {
				c.b.WriteByte('(')
				if err := c.typ(cs.Type); err != nil {
					return err
				}
				c.b.WriteByte(')')
			}
		}
		c.b.WriteByte('}')
	case *wit.Flags:
		c.b.WriteString("flags{")
		for i, f := range k.Flags {
			if i > 0 {
				c.b.WriteString(", ")
			}
			c.b.WriteString(f.Name)
		}
		c.b.WriteByte('}')
	case *wit.Option:
		c.b.WriteString("option<")
		if err := c.typ(k.Type); err != nil {
			return err
		}
		c.b.WriteByte('>')
	case *wit.Result:
		c.b.WriteString("result<")
		if k.OK != nil {
			if err := c.typ(k.OK); err != nil {
				return err
			}
		} else {
			c.b.WriteByte('_')
		}
		c.b.WriteByte(',')
		if k.Err != nil {
			if err := c.typ(k.Err); err != nil {
				return err
			}
		} else {
			c.b.WriteByte('_')
		}
		c.b.WriteByte('>')
	case *wit.List:
		c.b.WriteString("list<")
		if err := c.typ(k.Type); err != nil {
			return err
		}
		c.b.WriteByte('>')
	case *wit.Resource:
		c.b.WriteString("resource")
	case *wit.Own:
		if k.Type == nil {
			return errors.InvalidWorld("own handle %s has no resource type", typeName(td))
		}
		c.b.WriteString("own<")
		if err := c.typ(k.Type); err != nil {
			return err
		}
		c.b.WriteByte('>')
	case *wit.Borrow:
		if k.Type == nil {
			return errors.InvalidWorld("borrow handle %s has no resource type", typeName(td))
		}
		c.b.WriteString("borrow<")
		if err := c.typ(k.Type); err != nil {
			return err
		}
		c.b.WriteByte('>')
	case wit.Type:
		return c.typ(k)
	default:
		return errors.InvalidWorld("type %s has unsupported kind %T", typeName(td), td.Kind)
	}
	return nil
}

// HexIdentity formats an identity hash the way logs and build output
// print it.
func HexIdentity(id [sha256.Size]byte) string {
	return fmt.Sprintf("%x", id)
}
