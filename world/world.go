// Package world loads, selects, validates, and fingerprints the interface
// world a build targets. The type graph itself comes from
// go.bytecodealliance.org/wit; this package owns everything the pipeline
// decides about it.
package world

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// Load reads a resolved world description from disk. JSON documents parse
// in-process; anything else goes through the external textual frontend.
func Load(path string) (*wit.Resolve, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NotFound(errors.PhaseWorld, "file", path)
	}

	var (
		res *wit.Resolve
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		res, err = wit.LoadJSON(path)
	} else {
		res, err = wit.LoadWIT(path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorld, errors.KindInvalidWorld, err, "load "+path)
	}
	return res, nil
}

// Select picks the target world. A document with exactly one world needs
// no selector; multiple worlds need an explicit name, matched against the
// bare world name or its namespace:package/name form.
func Select(res *wit.Resolve, name string) (*wit.World, error) {
	if res == nil || len(res.Worlds) == 0 {
		return nil, errors.InvalidWorld("document declares no worlds")
	}

	if name == "" {
		if len(res.Worlds) == 1 {
			return res.Worlds[0], nil
		}
		return nil, errors.InvalidWorld("document declares %d worlds (%s); select one by name",
			len(res.Worlds), strings.Join(worldNames(res), ", "))
	}

	for _, w := range res.Worlds {
		if w.Name == name || qualifiedWorldName(w) == name {
			return w, nil
		}
	}
	return nil, errors.InvalidWorld("world %q not found; document declares %s",
		name, strings.Join(worldNames(res), ", "))
}

func worldNames(res *wit.Resolve) []string {
	names := make([]string, 0, len(res.Worlds))
	for _, w := range res.Worlds {
		names = append(names, w.Name)
	}
	return names
}

func qualifiedWorldName(w *wit.World) string {
	if w.Package == nil {
		return w.Name
	}
	pkg := w.Package.Name
	return pkg.Namespace + ":" + pkg.Package + "/" + w.Name
}

// interfaceName returns the fully qualified name of an interface, falling
// back to its world map key for inline interfaces.
func interfaceName(iface *wit.Interface, key string) string {
	if iface.Name == nil || iface.Package == nil {
		return key
	}
	pkg := iface.Package.Name
	base := pkg.Namespace + ":" + pkg.Package + "/" + *iface.Name
	if pkg.Version != nil {
		return base + "@" + pkg.Version.String()
	}
	return base
}

// Func is one function of the selected world.
type Func struct {
	// Interface is the qualified name of the owning interface, empty for
	// bare world-level functions.
	Interface string
	Name      string
	Params    []wit.Param
	Result    wit.Type
	Imported  bool
}

// Functions lists the world's functions in declaration order, imports
// before exports, interface members grouped under their interface.
func Functions(w *wit.World) ([]Func, error) {
	if w == nil {
		return nil, errors.InvalidWorld("no world selected")
	}

	var fns []Func
	collect := func(key string, item wit.WorldItem, imported bool) error {
		switch it := item.(type) {
		case *wit.Interface:
			name := interfaceName(it, key)
			for _, f := range it.Functions.All() {
				fns = append(fns, Func{
					Interface: name,
					Name:      f.Name,
					Params:    f.Params,
					Result:    f.Result,
					Imported:  imported,
				})
			}
		case *wit.Function:
			fns = append(fns, Func{
				Name:     it.Name,
				Params:   it.Params,
				Result:   it.Result,
				Imported: imported,
			})
		case *wit.TypeDef:
			// Type-only items carry no functions.
		default:
			return errors.InvalidWorld("world item %q has unsupported kind %T", key, item)
		}
		return nil
	}

	for key, item := range w.Imports.All() {
		if err := collect(key, item, true); err != nil {
			return nil, err
		}
	}
	for key, item := range w.Exports.All() {
		if err := collect(key, item, false); err != nil {
			return nil, err
		}
	}
	return fns, nil
}

// Validate structurally re-checks every type reachable from the world,
// regardless of what upstream tooling already guaranteed: case counts,
// discriminant cardinality, flags width, arm resolvability, and the
// freestanding-functions-only restriction.
func Validate(w *wit.World) error {
	if w == nil {
		return errors.InvalidWorld("no world selected")
	}

	v := &validator{checked: make(map[*wit.TypeDef]bool)}
	for key, item := range w.Imports.All() {
		if err := v.worldItem(key, item); err != nil {
			return err
		}
	}
	for key, item := range w.Exports.All() {
		if err := v.worldItem(key, item); err != nil {
			return err
		}
	}
	return nil
}

type validator struct {
	checked map[*wit.TypeDef]bool
}

func (v *validator) worldItem(key string, item wit.WorldItem) error {
	switch it := item.(type) {
	case *wit.Interface:
		for _, td := range it.TypeDefs.All() {
			if err := v.typeDef(td); err != nil {
				return err
			}
		}
		for _, f := range it.Functions.All() {
			if err := v.function(f); err != nil {
				return err
			}
		}
		return nil
	case *wit.Function:
		return v.function(it)
	case *wit.TypeDef:
		return v.typeDef(it)
	default:
		return errors.InvalidWorld("world item %q has unsupported kind %T", key, item)
	}
}

func (v *validator) function(f *wit.Function) error {
	if !f.IsFreestanding() {
		return errors.Unsupported(errors.PhaseWorld, "resource function "+f.Name)
	}
	for _, p := range f.Params {
		if p.Type == nil {
			return errors.InvalidWorld("parameter %q of %q has no type", p.Name, f.Name)
		}
		if err := v.valType(p.Type); err != nil {
			return err
		}
	}
	if f.Result != nil {
		return v.valType(f.Result)
	}
	return nil
}

func (v *validator) valType(t wit.Type) error {
	if td, ok := t.(*wit.TypeDef); ok {
		return v.typeDef(td)
	}
	return nil
}

func (v *validator) typeDef(td *wit.TypeDef) error {
	if v.checked[td] {
		return nil
	}
	v.checked[td] = true

	switch k := td.Kind.(type) {
	case *wit.Record:
		for _, f := range k.Fields {
			if f.Type == nil {
				return errors.InvalidWorld("field %q of %s has no type", f.Name, typeName(td))
			}
			if err := v.valType(f.Type); err != nil {
				return err
			}
		}
	case *wit.Tuple:
		for i, t := range k.Types {
			if t == nil {
				return errors.InvalidWorld("element %d of %s has no type", i, typeName(td))
			}
			if err := v.valType(t); err != nil {
				return err
			}
		}
	case *wit.Enum:
		if len(k.Cases) == 0 {
			return errors.InvalidWorld("enum %s has no cases", typeName(td))
		}
		if uint64(len(k.Cases)) > math.MaxUint32 {
			return errors.InvalidWorld("enum %s has %d cases; discriminant exceeds u32", typeName(td), len(k.Cases))
		}
	case *wit.Variant:
		if len(k.Cases) == 0 {
			return errors.InvalidWorld("variant %s has no cases", typeName(td))
		}
		if uint64(len(k.Cases)) > math.MaxUint32 {
			return errors.InvalidWorld("variant %s has %d cases; discriminant exceeds u32", typeName(td), len(k.Cases))
		}
		for _, c := range k.Cases {
			if c.Type != nil {
				if err := v.valType(c.Type); err != nil {
					return err
				}
			}
		}
	case *wit.Flags:
		if len(k.Flags) == 0 {
			return errors.InvalidWorld("flags %s has no labels", typeName(td))
		}
		if len(k.Flags) > 32 {
			return errors.Unsupported(errors.PhaseWorld, "flags "+typeName(td)+" wider than 32 labels")
		}
	case *wit.Option:
		if k.Type == nil {
			return errors.InvalidWorld("option %s has no payload type", typeName(td))
		}
		return v.valType(k.Type)
	case *wit.Result:
		// Both payloads may be absent.
		if k.OK != nil {
			if err := v.valType(k.OK); err != nil {
				return err
			}
		}
		if k.Err != nil {
			return v.valType(k.Err)
		}
	case *wit.List:
		if k.Type == nil {
			return errors.InvalidWorld("list %s has no element type", typeName(td))
		}
		return v.valType(k.Type)
	case *wit.Resource:
		// Handles to it pass through as opaque ids; only methods are out.
	case *wit.Own:
		if k.Type == nil {
			return errors.InvalidWorld("own handle %s has no resource type", typeName(td))
		}
		return v.typeDef(k.Type)
	case *wit.Borrow:
		if k.Type == nil {
			return errors.InvalidWorld("borrow handle %s has no resource type", typeName(td))
		}
		return v.typeDef(k.Type)
	case wit.Type:
		// Type alias.
		return v.valType(k)
	default:
		return errors.InvalidWorld("type %s has unsupported kind %T", typeName(td), td.Kind)
	}
	return nil
}

func typeName(td *wit.TypeDef) string {
	if td.Name != nil {
		return *td.Name
	}
	return "<anonymous>"
}
