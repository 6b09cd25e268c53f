package world

import (
	"bytes"
	"fmt"
	"io"

	"github.com/coreos/go-semver/semver"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/wasm"
	"go.bytecodealliance.org/wit"
)

// Binary world codec. The artifact embeds the selected world so a runner
// can rebuild its bridge table without the original WIT inputs. Only the
// surface Validate accepts is encodable: freestanding functions, the
// value-type kinds, and opaque resource handles. Encoding a world and
// decoding it yields the same canonical form, so identities survive the
// round trip.

const codecVersion = 1

const (
	typeBool = iota
	typeU8
	typeU16
	typeU32
	typeU64
	typeS8
	typeS16
	typeS32
	typeS64
	typeF32
	typeF64
	typeChar
	typeString
	typeRef // named or anonymous type definition, by table index
)

const (
	kindRecord = iota + 1
	kindTuple
	kindEnum
	kindVariant
	kindFlags
	kindOption
	kindResult
	kindList
	kindAlias
	kindResource
	kindOwn
	kindBorrow
)

const (
	itemInterface = iota + 1
	itemFunction
	itemTypeDef
)

// EncodeWorld serializes the world: a type-definition table in first-visit
// order, then imports and exports in declaration order.
func EncodeWorld(w *wit.World) ([]byte, error) {
	if w == nil {
		return nil, errors.InvalidWorld("no world selected")
	}

	enc := &worldEncoder{index: make(map[*wit.TypeDef]uint32)}
	if err := enc.collectWorld(w); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	writeString(&buf, w.Name)

	wasm.WriteLEB128u(&buf, uint32(len(enc.defs)))
	for _, td := range enc.defs {
		if td.Name != nil {
			buf.WriteByte(1)
			writeString(&buf, *td.Name)
		} else {
			buf.WriteByte(0)
		}
		if err := enc.writeKind(&buf, td); err != nil {
			return nil, err
		}
	}

	if err := enc.writeItems(&buf, w.Imports.All()); err != nil {
		return nil, err
	}
	if err := enc.writeItems(&buf, w.Exports.All()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type worldEncoder struct {
	index map[*wit.TypeDef]uint32
	defs  []*wit.TypeDef
}

// collectWorld walks the world in declaration order and assigns every type
// definition a table index on first visit, parents before the children
// discovered inside them.
func (enc *worldEncoder) collectWorld(w *wit.World) error {
	collect := func(item wit.WorldItem) error {
		switch it := item.(type) {
		case *wit.Interface:
			for _, td := range it.TypeDefs.All() {
				if err := enc.collectType(td); err != nil {
					return err
				}
			}
			for _, f := range it.Functions.All() {
				if err := enc.collectFunc(f); err != nil {
					return err
				}
			}
			return nil
		case *wit.Function:
			return enc.collectFunc(it)
		case *wit.TypeDef:
			return enc.collectType(it)
		default:
			return errors.InvalidWorld("world item has unsupported kind %T", item)
		}
	}
	for _, item := range w.Imports.All() {
		if err := collect(item); err != nil {
			return err
		}
	}
	for _, item := range w.Exports.All() {
		if err := collect(item); err != nil {
			return err
		}
	}
	return nil
}

func (enc *worldEncoder) collectFunc(f *wit.Function) error {
	for _, p := range f.Params {
		if err := enc.collectType(p.Type); err != nil {
			return err
		}
	}
	if f.Result != nil {
		return enc.collectType(f.Result)
	}
	return nil
}

func (enc *worldEncoder) collectType(t wit.Type) error {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return nil
	}
	if _, seen := enc.index[td]; seen {
		return nil
	}
	enc.index[td] = uint32(len(enc.defs))
	enc.defs = append(enc.defs, td)

	switch k := td.Kind.(type) {
	case *wit.Record:
		for _, f := range k.Fields {
			if err := enc.collectType(f.Type); err != nil {
				return err
			}
		}
	case *wit.Tuple:
		for _, t := range k.Types {
			if err := enc.collectType(t); err != nil {
				return err
			}
		}
	case *wit.Variant:
		for _, c := range k.Cases {
			if c.Type != nil {
				if err := enc.collectType(c.Type); err != nil {
					return err
				}
			}
		}
	case *wit.Option:
		return enc.collectType(k.Type)
	case *wit.Result:
		if k.OK != nil {
			if err := enc.collectType(k.OK); err != nil {
				return err
			}
		}
		if k.Err != nil {
			return enc.collectType(k.Err)
		}
	case *wit.List:
		return enc.collectType(k.Type)
	case *wit.Own:
		if k.Type != nil {
			return enc.collectType(k.Type)
		}
	case *wit.Borrow:
		if k.Type != nil {
			return enc.collectType(k.Type)
		}
	case *wit.Enum, *wit.Flags, *wit.Resource:
		// Leaf kinds.
	case wit.Type:
		return enc.collectType(k)
	default:
		return errors.InvalidWorld("type %s has unsupported kind %T", typeName(td), td.Kind)
	}
	return nil
}

func (enc *worldEncoder) writeItems(buf *bytes.Buffer, items func(func(string, wit.WorldItem) bool)) error {
	n := uint32(0)
	for range items {
		n++
	}
	wasm.WriteLEB128u(buf, n)

	for key, item := range items {
		switch it := item.(type) {
		case *wit.Interface:
			buf.WriteByte(itemInterface)
			writeString(buf, key)
			if it.Name != nil {
				buf.WriteByte(1)
				writeString(buf, *it.Name)
			} else {
				buf.WriteByte(0)
			}
			if it.Package != nil {
				buf.WriteByte(1)
				writeString(buf, it.Package.Name.Namespace)
				writeString(buf, it.Package.Name.Package)
				if it.Package.Name.Version != nil {
					buf.WriteByte(1)
					writeString(buf, it.Package.Name.Version.String())
				} else {
					buf.WriteByte(0)
				}
			} else {
				buf.WriteByte(0)
			}

			tds := uint32(0)
			for range it.TypeDefs.All() {
				tds++
			}
			wasm.WriteLEB128u(buf, tds)
			for tkey, td := range it.TypeDefs.All() {
				writeString(buf, tkey)
				wasm.WriteLEB128u(buf, enc.index[td])
			}

			fns := uint32(0)
			for range it.Functions.All() {
				fns++
			}
			wasm.WriteLEB128u(buf, fns)
			for _, f := range it.Functions.All() {
				if err := enc.writeFunc(buf, f); err != nil {
					return err
				}
			}
		case *wit.Function:
			buf.WriteByte(itemFunction)
			writeString(buf, key)
			if err := enc.writeFunc(buf, it); err != nil {
				return err
			}
		case *wit.TypeDef:
			buf.WriteByte(itemTypeDef)
			writeString(buf, key)
			wasm.WriteLEB128u(buf, enc.index[it])
		default:
			return errors.InvalidWorld("world item %q has unsupported kind %T", key, item)
		}
	}
	return nil
}

func (enc *worldEncoder) writeFunc(buf *bytes.Buffer, f *wit.Function) error {
	if !f.IsFreestanding() {
		return errors.Unsupported(errors.PhaseWorld, "resource function "+f.Name)
	}
	writeString(buf, f.Name)
	wasm.WriteLEB128u(buf, uint32(len(f.Params)))
	for _, p := range f.Params {
		writeString(buf, p.Name)
		if err := enc.writeType(buf, p.Type); err != nil {
			return err
		}
	}
	if f.Result != nil {
		buf.WriteByte(1)
		return enc.writeType(buf, f.Result)
	}
	buf.WriteByte(0)
	return nil
}

func (enc *worldEncoder) writeType(buf *bytes.Buffer, t wit.Type) error {
	switch tt := t.(type) {
	case nil:
		return errors.InvalidWorld("missing type in world encoding")
	case wit.Bool:
		buf.WriteByte(typeBool)
	case wit.U8:
		buf.WriteByte(typeU8)
	case wit.U16:
		buf.WriteByte(typeU16)
	case wit.U32:
		buf.WriteByte(typeU32)
	case wit.U64:
		buf.WriteByte(typeU64)
	case wit.S8:
		buf.WriteByte(typeS8)
	case wit.S16:
		buf.WriteByte(typeS16)
	case wit.S32:
		buf.WriteByte(typeS32)
	case wit.S64:
		buf.WriteByte(typeS64)
	case wit.F32:
		buf.WriteByte(typeF32)
	case wit.F64:
		buf.WriteByte(typeF64)
	case wit.Char:
		buf.WriteByte(typeChar)
	case wit.String:
		buf.WriteByte(typeString)
	case *wit.TypeDef:
		buf.WriteByte(typeRef)
		wasm.WriteLEB128u(buf, enc.index[tt])
	default:
		return errors.InvalidWorld("type has unsupported kind %T", t)
	}
	return nil
}

func (enc *worldEncoder) writeKind(buf *bytes.Buffer, td *wit.TypeDef) error {
	switch k := td.Kind.(type) {
	case *wit.Record:
		buf.WriteByte(kindRecord)
		wasm.WriteLEB128u(buf, uint32(len(k.Fields)))
		for _, f := range k.Fields {
			writeString(buf, f.Name)
			if err := enc.writeType(buf, f.Type); err != nil {
				return err
			}
		}
	case *wit.Tuple:
		buf.WriteByte(kindTuple)
		wasm.WriteLEB128u(buf, uint32(len(k.Types)))
		for _, t := range k.Types {
			if err := enc.writeType(buf, t); err != nil {
				return err
			}
		}
	case *wit.Enum:
		buf.WriteByte(kindEnum)
		wasm.WriteLEB128u(buf, uint32(len(k.Cases)))
		for _, c := range k.Cases {
			writeString(buf, c.Name)
		}
	case *wit.Variant:
		buf.WriteByte(kindVariant)
		wasm.WriteLEB128u(buf, uint32(len(k.Cases)))
		for _, c := range k.Cases {
			writeString(buf, c.Name)
			if c.Type != nil {
				buf.WriteByte(1)
				if err := enc.writeType(buf, c.Type); err != nil {
					return err
				}
			} else {
				buf.WriteByte(0)
			}
		}
	case *wit.Flags:
		buf.WriteByte(kindFlags)
		wasm.WriteLEB128u(buf, uint32(len(k.Flags)))
		for _, f := range k.Flags {
			writeString(buf, f.Name)
		}
	case *wit.Option:
		buf.WriteByte(kindOption)
		return enc.writeType(buf, k.Type)
	case *wit.Result:
		buf.WriteByte(kindResult)
		if k.OK != nil {
			buf.WriteByte(1)
			if err := enc.writeType(buf, k.OK); err != nil {
				return err
			}
		} else {
			buf.WriteByte(0)
		}
		if k.Err != nil {
			buf.WriteByte(1)
			return enc.writeType(buf, k.Err)
		}
		buf.WriteByte(0)
	case *wit.List:
		buf.WriteByte(kindList)
		return enc.writeType(buf, k.Type)
	case *wit.Resource:
		buf.WriteByte(kindResource)
	case *wit.Own:
		if k.Type == nil {
			return errors.InvalidWorld("own handle %s has no resource type", typeName(td))
		}
		buf.WriteByte(kindOwn)
		wasm.WriteLEB128u(buf, enc.index[k.Type])
	case *wit.Borrow:
		if k.Type == nil {
			return errors.InvalidWorld("borrow handle %s has no resource type", typeName(td))
		}
		buf.WriteByte(kindBorrow)
		wasm.WriteLEB128u(buf, enc.index[k.Type])
	case wit.Type:
		buf.WriteByte(kindAlias)
		return enc.writeType(buf, k)
	default:
		return errors.InvalidWorld("type %s has unsupported kind %T", typeName(td), td.Kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	wasm.WriteLEB128u(buf, uint32(len(s)))
	buf.WriteString(s)
}

// DecodeWorld rebuilds a world from its binary encoding. Type definitions
// decode as shared shells first so references resolve in one pass.
func DecodeWorld(data []byte) (*wit.World, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWorld, errors.KindInvalidWorld, err, "read world encoding version")
	}
	if version != codecVersion {
		return nil, errors.InvalidWorld("world encoding version %d, want %d", version, codecVersion)
	}

	dec := &worldDecoder{r: r}
	w := &wit.World{Name: dec.str()}

	n := dec.u32()
	if dec.err == nil && uint64(n)*2 > uint64(r.Len()) {
		return nil, errors.InvalidWorld("world encoding declares %d type definitions in %d bytes", n, r.Len())
	}
	dec.defs = make([]*wit.TypeDef, n)
	for i := range dec.defs {
		dec.defs[i] = &wit.TypeDef{}
	}
	for _, td := range dec.defs {
		if dec.flag() {
			td.Name = strref(dec.str())
		}
		td.Kind = dec.kind()
	}

	dec.items(func(key string, item wit.WorldItem) { w.Imports.Set(key, item) })
	dec.items(func(key string, item wit.WorldItem) { w.Exports.Set(key, item) })
	if dec.err != nil {
		return nil, dec.err
	}
	if r.Len() != 0 {
		return nil, errors.InvalidWorld("world encoding carries %d trailing bytes", r.Len())
	}
	return w, nil
}

func strref(s string) *string { return &s }

type worldDecoder struct {
	r    *bytes.Reader
	defs []*wit.TypeDef
	err  error
}

func (dec *worldDecoder) fail(err error, detail string) {
	if dec.err == nil {
		dec.err = errors.Wrap(errors.PhaseWorld, errors.KindInvalidWorld, err, detail)
	}
}

func (dec *worldDecoder) u32() uint32 {
	if dec.err != nil {
		return 0
	}
	v, err := wasm.ReadLEB128u(dec.r)
	if err != nil {
		dec.fail(err, "read varint")
	}
	return v
}

func (dec *worldDecoder) byte() byte {
	if dec.err != nil {
		return 0
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		dec.fail(err, "read byte")
	}
	return b
}

func (dec *worldDecoder) flag() bool { return dec.byte() == 1 }

func (dec *worldDecoder) str() string {
	n := dec.u32()
	if dec.err != nil {
		return ""
	}
	if uint64(n) > uint64(dec.r.Len()) {
		dec.fail(io.ErrUnexpectedEOF, fmt.Sprintf("string of %d bytes exceeds remaining %d", n, dec.r.Len()))
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		dec.fail(err, "read string")
		return ""
	}
	return string(b)
}

func (dec *worldDecoder) ref() *wit.TypeDef {
	i := dec.u32()
	if dec.err != nil {
		return nil
	}
	if int(i) >= len(dec.defs) {
		dec.fail(io.ErrUnexpectedEOF, fmt.Sprintf("type reference %d out of %d definitions", i, len(dec.defs)))
		return nil
	}
	return dec.defs[i]
}

func (dec *worldDecoder) typ() wit.Type {
	switch tag := dec.byte(); tag {
	case typeBool:
		return wit.Bool{}
	case typeU8:
		return wit.U8{}
	case typeU16:
		return wit.U16{}
	case typeU32:
		return wit.U32{}
	case typeU64:
		return wit.U64{}
	case typeS8:
		return wit.S8{}
	case typeS16:
		return wit.S16{}
	case typeS32:
		return wit.S32{}
	case typeS64:
		return wit.S64{}
	case typeF32:
		return wit.F32{}
	case typeF64:
		return wit.F64{}
	case typeChar:
		return wit.Char{}
	case typeString:
		return wit.String{}
	case typeRef:
		return dec.ref()
	default:
		if dec.err == nil {
			dec.err = errors.InvalidWorld("unknown type tag %d", tag)
		}
		return nil
	}
}

func (dec *worldDecoder) kind() wit.TypeDefKind {
	switch tag := dec.byte(); tag {
	case kindRecord:
		n := dec.u32()
		rec := &wit.Record{}
		for i := uint32(0); i < n && dec.err == nil; i++ {
			rec.Fields = append(rec.Fields, wit.Field{Name: dec.str(), Type: dec.typ()})
		}
		return rec
	case kindTuple:
		n := dec.u32()
		tup := &wit.Tuple{}
		for i := uint32(0); i < n && dec.err == nil; i++ {
			tup.Types = append(tup.Types, dec.typ())
		}
		return tup
	case kindEnum:
		n := dec.u32()
		e := &wit.Enum{}
		for i := uint32(0); i < n && dec.err == nil; i++ {
			e.Cases = append(e.Cases, wit.EnumCase{Name: dec.str()})
		}
		return e
	case kindVariant:
		n := dec.u32()
		v := &wit.Variant{}
		for i := uint32(0); i < n && dec.err == nil; i++ {
			c := wit.Case{Name: dec.str()}
			if dec.flag() {
				c.Type = dec.typ()
			}
			v.Cases = append(v.Cases, c)
		}
		return v
	case kindFlags:
		n := dec.u32()
		f := &wit.Flags{}
		for i := uint32(0); i < n && dec.err == nil; i++ {
			f.Flags = append(f.Flags, wit.Flag{Name: dec.str()})
		}
		return f
	case kindOption:
		return &wit.Option{Type: dec.typ()}
	case kindResult:
		res := &wit.Result{}
		if dec.flag() {
			res.OK = dec.typ()
		}
		if dec.flag() {
			res.Err = dec.typ()
		}
		return res
	case kindList:
		return &wit.List{Type: dec.typ()}
	case kindResource:
		return &wit.Resource{}
	case kindOwn:
		return &wit.Own{Type: dec.ref()}
	case kindBorrow:
		return &wit.Borrow{Type: dec.ref()}
	case kindAlias:
		t := dec.typ()
		if t == nil {
			return nil
		}
		kind, ok := t.(wit.TypeDefKind)
		if !ok {
			if dec.err == nil {
				dec.err = errors.InvalidWorld("alias target %T is not a type kind", t)
			}
			return nil
		}
		return kind
	default:
		if dec.err == nil {
			dec.err = errors.InvalidWorld("unknown type kind tag %d", tag)
		}
		return nil
	}
}

func (dec *worldDecoder) fn() *wit.Function {
	f := &wit.Function{Name: dec.str(), Kind: wit.Freestanding{}}
	n := dec.u32()
	for i := uint32(0); i < n && dec.err == nil; i++ {
		f.Params = append(f.Params, wit.Param{Name: dec.str(), Type: dec.typ()})
	}
	if dec.flag() {
		f.Result = dec.typ()
	}
	return f
}

func (dec *worldDecoder) items(set func(string, wit.WorldItem)) {
	n := dec.u32()
	for i := uint32(0); i < n && dec.err == nil; i++ {
		switch tag := dec.byte(); tag {
		case itemInterface:
			key := dec.str()
			iface := &wit.Interface{}
			if dec.flag() {
				iface.Name = strref(dec.str())
			}
			if dec.flag() {
				pkg := &wit.Package{Name: wit.Ident{
					Namespace: dec.str(),
					Package:   dec.str(),
				}}
				if dec.flag() {
					raw := dec.str()
					if dec.err == nil {
						ver, err := semver.NewVersion(raw)
						if err != nil {
							dec.fail(err, "parse package version "+raw)
						} else {
							pkg.Name.Version = ver
						}
					}
				}
				iface.Package = pkg
			}
			tds := dec.u32()
			for j := uint32(0); j < tds && dec.err == nil; j++ {
				tkey := dec.str()
				if td := dec.ref(); td != nil {
					iface.TypeDefs.Set(tkey, td)
				}
			}
			fns := dec.u32()
			for j := uint32(0); j < fns && dec.err == nil; j++ {
				f := dec.fn()
				if dec.err == nil {
					iface.Functions.Set(f.Name, f)
				}
			}
			if dec.err == nil {
				set(key, iface)
			}
		case itemFunction:
			key := dec.str()
			f := dec.fn()
			if dec.err == nil {
				set(key, f)
			}
		case itemTypeDef:
			key := dec.str()
			if td := dec.ref(); td != nil {
				set(key, td)
			}
		default:
			if dec.err == nil {
				dec.err = errors.InvalidWorld("unknown world item tag %d", tag)
			}
			return
		}
	}
}
