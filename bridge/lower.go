package bridge

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// Lowerer converts script values into ABI form, either appending flat core
// value slots or writing linear memory through the allocator.
type Lowerer struct {
	mem    Memory
	alloc  Allocator
	layout *abi.Calculator
}

func NewLowerer(mem Memory, alloc Allocator, layout *abi.Calculator) *Lowerer {
	return &Lowerer{mem: mem, alloc: alloc, layout: layout}
}

// LowerFlat lowers one script value into flat core slots, appending to flat.
// Variant-shaped types always append their padded slot count.
func (lw *Lowerer) LowerFlat(t wit.Type, v goja.Value, flat *[]uint64) error {
	return lw.flattenValue(t, v, flat, nil)
}

// LowerWrite lowers one script value into linear memory at addr. The
// caller is responsible for allocating the top-level region; indirect
// data (strings, lists) goes through the allocator.
func (lw *Lowerer) LowerWrite(t wit.Type, v goja.Value, addr uint32) error {
	return lw.storeValue(t, v, addr, nil)
}

func (lw *Lowerer) flattenValue(witType wit.Type, v goja.Value, flat *[]uint64, path []string) error {
	switch t := witType.(type) {
	case wit.Bool:
		if truthy(v) {
			*flat = append(*flat, 1)
		} else {
			*flat = append(*flat, 0)
		}
		return nil
	case wit.U8:
		n, err := lw.scriptInteger(v, "u8", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint8(n)))
		return nil
	case wit.S8:
		n, err := lw.scriptInteger(v, "s8", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint32(int32(int8(n)))))
		return nil
	case wit.U16:
		n, err := lw.scriptInteger(v, "u16", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint16(n)))
		return nil
	case wit.S16:
		n, err := lw.scriptInteger(v, "s16", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint32(int32(int16(n)))))
		return nil
	case wit.U32:
		n, err := lw.scriptInteger(v, "u32", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint32(n)))
		return nil
	case wit.S32:
		n, err := lw.scriptInteger(v, "s32", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint32(int32(n))))
		return nil
	case wit.U64:
		n, err := lw.scriptInteger(v, "u64", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(n))
		return nil
	case wit.S64:
		n, err := lw.scriptInteger(v, "s64", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(n))
		return nil
	case wit.F32:
		f, err := lw.scriptFloat(v, "f32", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(abi.CanonicalizeF32(math.Float32bits(float32(f)))))
		return nil
	case wit.F64:
		f, err := lw.scriptFloat(v, "f64", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, abi.CanonicalizeF64(math.Float64bits(f)))
		return nil
	case wit.Char:
		code, err := lw.charCode(v, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(code))
		return nil
	case wit.String:
		ptr, length, err := lw.lowerString(v, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(ptr), uint64(length))
		return nil
	case *wit.TypeDef:
		return lw.flattenTypeDef(t, v, flat, path)
	default:
		return errors.Unsupported(errors.PhaseLower, "WIT type")
	}
}

func (lw *Lowerer) flattenTypeDef(t *wit.TypeDef, v goja.Value, flat *[]uint64, path []string) error {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		return lw.flattenRecord(kind, v, flat, path)
	case *wit.List:
		ptr, length, err := lw.lowerList(kind, v, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(ptr), uint64(length))
		return nil
	case *wit.Option:
		return lw.flattenOption(kind, v, flat, path)
	case *wit.Tuple:
		return lw.flattenTuple(kind, v, flat, path)
	case *wit.Enum:
		disc, err := lw.enumDiscriminant(kind, v, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(disc))
		return nil
	case *wit.Flags:
		bits, err := lw.flagsBits(kind, v, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(bits))
		return nil
	case *wit.Result:
		return lw.flattenResult(kind, v, flat, path)
	case *wit.Variant:
		return lw.flattenVariant(kind, v, flat, path)
	case *wit.Own, *wit.Borrow:
		n, err := lw.scriptInteger(v, "handle", path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(uint32(n)))
		return nil
	case wit.Type:
		return lw.flattenValue(kind, v, flat, path)
	default:
		return errors.Unsupported(errors.PhaseLower, "TypeDef kind")
	}
}

func (lw *Lowerer) flattenRecord(r *wit.Record, v goja.Value, flat *[]uint64, path []string) error {
	obj, ok := v.(*goja.Object)
	if !ok {
		return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "record")
	}

	for _, field := range r.Fields {
		fieldPath := append(append([]string{}, path...), field.Name)
		fv := obj.Get(ScriptName(field.Name))
		if fv == nil {
			return errors.MissingField(errors.PhaseLower, path, ScriptName(field.Name))
		}
		if err := lw.flattenValue(field.Type, fv, flat, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func (lw *Lowerer) flattenTuple(t *wit.Tuple, v goja.Value, flat *[]uint64, path []string) error {
	obj, err := lw.arrayLike(v, "tuple", path)
	if err != nil {
		return err
	}

	for i, elemType := range t.Types {
		elemPath := append(append([]string{}, path...), "["+strconv.Itoa(i)+"]")
		ev := obj.Get(strconv.Itoa(i))
		if ev == nil {
			return errors.MissingField(errors.PhaseLower, path, "["+strconv.Itoa(i)+"]")
		}
		if err := lw.flattenValue(elemType, ev, flat, elemPath); err != nil {
			return err
		}
	}
	return nil
}

func (lw *Lowerer) flattenOption(o *wit.Option, v goja.Value, flat *[]uint64, path []string) error {
	if isAbsent(v) {
		*flat = append(*flat, 0)
		// None still occupies the payload slots
		for i := 0; i < abi.FlatCount(o.Type); i++ {
			*flat = append(*flat, 0)
		}
		return nil
	}

	*flat = append(*flat, 1)
	somePath := append(append([]string{}, path...), "[some]")
	return lw.flattenValue(o.Type, v, flat, somePath)
}

func (lw *Lowerer) flattenResult(r *wit.Result, v goja.Value, flat *[]uint64, path []string) error {
	maxPayload := 0
	if r.OK != nil {
		if n := abi.FlatCount(r.OK); n > maxPayload {
			maxPayload = n
		}
	}
	if r.Err != nil {
		if n := abi.FlatCount(r.Err); n > maxPayload {
			maxPayload = n
		}
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "result")
	}
	disc, payloadType, err := lw.resultCase(r, obj, path)
	if err != nil {
		return err
	}

	start := len(*flat)
	*flat = append(*flat, uint64(disc))

	if payloadType != nil {
		payload := obj.Get("val")
		if payload == nil {
			return errors.MissingField(errors.PhaseLower, path, "val")
		}
		tag := "ok"
		if disc == 1 {
			tag = "err"
		}
		payloadPath := append(append([]string{}, path...), "["+tag+"]")
		if err := lw.flattenValue(payloadType, payload, flat, payloadPath); err != nil {
			return err
		}
	}

	// Pad payload slots out to the joined width
	for len(*flat)-start < 1+maxPayload {
		*flat = append(*flat, 0)
	}
	return nil
}

func (lw *Lowerer) flattenVariant(vt *wit.Variant, v goja.Value, flat *[]uint64, path []string) error {
	maxPayload := 0
	for _, c := range vt.Cases {
		if c.Type != nil {
			if n := abi.FlatCount(c.Type); n > maxPayload {
				maxPayload = n
			}
		}
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "variant")
	}
	disc, err := lw.variantCase(vt, obj, path)
	if err != nil {
		return err
	}
	c := vt.Cases[disc]

	start := len(*flat)
	*flat = append(*flat, uint64(disc))

	if c.Type != nil {
		payload := obj.Get("val")
		if payload == nil {
			return errors.MissingField(errors.PhaseLower, path, "val")
		}
		casePath := append(append([]string{}, path...), c.Name)
		if err := lw.flattenValue(c.Type, payload, flat, casePath); err != nil {
			return err
		}
	}

	for len(*flat)-start < 1+maxPayload {
		*flat = append(*flat, 0)
	}
	return nil
}

func (lw *Lowerer) storeValue(witType wit.Type, v goja.Value, addr uint32, path []string) error {
	switch t := witType.(type) {
	case wit.Bool:
		var b byte
		if truthy(v) {
			b = 1
		}
		return lw.mem.WriteU8(addr, b)
	case wit.U8:
		n, err := lw.scriptInteger(v, "u8", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU8(addr, uint8(n))
	case wit.S8:
		n, err := lw.scriptInteger(v, "s8", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU8(addr, uint8(int8(n)))
	case wit.U16:
		n, err := lw.scriptInteger(v, "u16", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU16(addr, uint16(n))
	case wit.S16:
		n, err := lw.scriptInteger(v, "s16", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU16(addr, uint16(int16(n)))
	case wit.U32:
		n, err := lw.scriptInteger(v, "u32", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU32(addr, uint32(n))
	case wit.S32:
		n, err := lw.scriptInteger(v, "s32", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU32(addr, uint32(int32(n)))
	case wit.U64:
		n, err := lw.scriptInteger(v, "u64", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU64(addr, uint64(n))
	case wit.S64:
		n, err := lw.scriptInteger(v, "s64", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU64(addr, uint64(n))
	case wit.F32:
		f, err := lw.scriptFloat(v, "f32", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU32(addr, abi.CanonicalizeF32(math.Float32bits(float32(f))))
	case wit.F64:
		f, err := lw.scriptFloat(v, "f64", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU64(addr, abi.CanonicalizeF64(math.Float64bits(f)))
	case wit.Char:
		code, err := lw.charCode(v, path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU32(addr, code)
	case wit.String:
		ptr, length, err := lw.lowerString(v, path)
		if err != nil {
			return err
		}
		if err := lw.mem.WriteU32(addr, ptr); err != nil {
			return err
		}
		return lw.mem.WriteU32(addr+4, length)
	case *wit.TypeDef:
		return lw.storeTypeDef(t, v, addr, path)
	default:
		return errors.Unsupported(errors.PhaseLower, "WIT type for store")
	}
}

func (lw *Lowerer) storeTypeDef(t *wit.TypeDef, v goja.Value, addr uint32, path []string) error {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		obj, ok := v.(*goja.Object)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "record")
		}
		info := lw.layout.Calculate(t)
		for _, field := range kind.Fields {
			fieldPath := append(append([]string{}, path...), field.Name)
			fv := obj.Get(ScriptName(field.Name))
			if fv == nil {
				return errors.MissingField(errors.PhaseLower, path, ScriptName(field.Name))
			}
			if err := lw.storeValue(field.Type, fv, addr+info.FieldOffs[field.Name], fieldPath); err != nil {
				return err
			}
		}
		return nil

	case *wit.List:
		ptr, length, err := lw.lowerList(kind, v, path)
		if err != nil {
			return err
		}
		if err := lw.mem.WriteU32(addr, ptr); err != nil {
			return err
		}
		return lw.mem.WriteU32(addr+4, length)

	case *wit.Option:
		info := lw.layout.Calculate(t)
		if isAbsent(v) {
			return lw.mem.WriteU8(addr, 0)
		}
		if err := lw.mem.WriteU8(addr, 1); err != nil {
			return err
		}
		somePath := append(append([]string{}, path...), "[some]")
		return lw.storeValue(kind.Type, v, addr+info.PayloadOff, somePath)

	case *wit.Tuple:
		obj, err := lw.arrayLike(v, "tuple", path)
		if err != nil {
			return err
		}
		info := lw.layout.Calculate(t)
		for i, elemType := range kind.Types {
			elemPath := append(append([]string{}, path...), "["+strconv.Itoa(i)+"]")
			ev := obj.Get(strconv.Itoa(i))
			if ev == nil {
				return errors.MissingField(errors.PhaseLower, path, "["+strconv.Itoa(i)+"]")
			}
			if err := lw.storeValue(elemType, ev, addr+info.ElemOffs[i], elemPath); err != nil {
				return err
			}
		}
		return nil

	case *wit.Enum:
		info := lw.layout.Calculate(t)
		disc, err := lw.enumDiscriminant(kind, v, path)
		if err != nil {
			return err
		}
		return lw.writeDiscriminant(addr, info.Disc, disc)

	case *wit.Flags:
		info := lw.layout.Calculate(t)
		bits, err := lw.flagsBits(kind, v, path)
		if err != nil {
			return err
		}
		return lw.writeDiscriminant(addr, info.Size, bits)

	case *wit.Result:
		obj, ok := v.(*goja.Object)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "result")
		}
		info := lw.layout.Calculate(t)
		disc, payloadType, err := lw.resultCase(kind, obj, path)
		if err != nil {
			return err
		}
		if err := lw.mem.WriteU8(addr, uint8(disc)); err != nil {
			return err
		}
		if payloadType != nil {
			payload := obj.Get("val")
			if payload == nil {
				return errors.MissingField(errors.PhaseLower, path, "val")
			}
			tag := "ok"
			if disc == 1 {
				tag = "err"
			}
			payloadPath := append(append([]string{}, path...), "["+tag+"]")
			return lw.storeValue(payloadType, payload, addr+info.PayloadOff, payloadPath)
		}
		return nil

	case *wit.Variant:
		obj, ok := v.(*goja.Object)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "variant")
		}
		info := lw.layout.Calculate(t)
		disc, err := lw.variantCase(kind, obj, path)
		if err != nil {
			return err
		}
		if err := lw.writeDiscriminant(addr, info.Disc, disc); err != nil {
			return err
		}
		c := kind.Cases[disc]
		if c.Type != nil {
			payload := obj.Get("val")
			if payload == nil {
				return errors.MissingField(errors.PhaseLower, path, "val")
			}
			casePath := append(append([]string{}, path...), c.Name)
			return lw.storeValue(c.Type, payload, addr+info.PayloadOff, casePath)
		}
		return nil

	case *wit.Own, *wit.Borrow:
		n, err := lw.scriptInteger(v, "handle", path)
		if err != nil {
			return err
		}
		return lw.mem.WriteU32(addr, uint32(n))

	case wit.Type:
		return lw.storeValue(kind, v, addr, path)

	default:
		return errors.Unsupported(errors.PhaseLower, "TypeDef kind for store")
	}
}

// writeDiscriminant writes a 1, 2, or 4 byte little-endian value.
func (lw *Lowerer) writeDiscriminant(addr, size, v uint32) error {
	switch size {
	case 1:
		return lw.mem.WriteU8(addr, uint8(v))
	case 2:
		return lw.mem.WriteU16(addr, uint16(v))
	default:
		return lw.mem.WriteU32(addr, v)
	}
}

// lowerString encodes a script string through the allocator, returning
// the data pointer and byte length.
func (lw *Lowerer) lowerString(v goja.Value, path []string) (uint32, uint32, error) {
	s, ok := exportString(v)
	if !ok {
		return 0, 0, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "string")
	}

	if !utf8.ValidString(s) {
		return 0, 0, errors.InvalidUTF8(errors.PhaseLower, path, []byte(s))
	}
	if len(s) > abi.MaxStringSize {
		return 0, 0, errors.New(errors.PhaseLower, errors.KindOutOfBounds).
			Path(path...).
			Detail("string size %d exceeds maximum %d", len(s), abi.MaxStringSize).
			Build()
	}
	if len(s) == 0 {
		return 0, 0, nil
	}

	ptr, err := lw.alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, err
	}
	if ptr == 0 {
		return 0, 0, errors.AllocationFailed(errors.PhaseLower, uint32(len(s)), 1)
	}
	if err := lw.mem.Write(ptr, []byte(s)); err != nil {
		return 0, 0, errors.MemoryAccess(errors.PhaseLower, path, ptr, uint32(len(s)))
	}
	return ptr, uint32(len(s)), nil
}

// lowerList writes list contents through the allocator, returning the
// data pointer and element count.
func (lw *Lowerer) lowerList(lst *wit.List, v goja.Value, path []string) (uint32, uint32, error) {
	obj, err := lw.arrayLike(v, "list", path)
	if err != nil {
		return 0, 0, err
	}

	n := obj.Get("length").ToInteger()
	if n < 0 || n > abi.MaxListLength {
		return 0, 0, errors.New(errors.PhaseLower, errors.KindOutOfBounds).
			Path(path...).
			Detail("list length %d exceeds maximum %d", n, abi.MaxListLength).
			Build()
	}
	if n == 0 {
		return 0, 0, nil
	}

	elemInfo := lw.layout.Calculate(lst.Type)
	stride := abi.AlignTo(elemInfo.Size, elemInfo.Align)
	byteLen, ok := abi.SafeMulU32(uint32(n), stride)
	if !ok || byteLen > abi.MaxAlloc {
		return 0, 0, errors.New(errors.PhaseLower, errors.KindOutOfBounds).
			Path(path...).
			Detail("list byte length overflows (%d elements, stride %d)", n, stride).
			Build()
	}

	align := elemInfo.Align
	if align == 0 {
		align = 1
	}
	ptr, err := lw.alloc.Alloc(byteLen, align)
	if err != nil {
		return 0, 0, err
	}
	if ptr == 0 {
		return 0, 0, errors.AllocationFailed(errors.PhaseLower, byteLen, align)
	}

	for i := int64(0); i < n; i++ {
		elemPath := append(append([]string{}, path...), "["+strconv.FormatInt(i, 10)+"]")
		ev := obj.Get(strconv.FormatInt(i, 10))
		if ev == nil {
			// Array hole; lowered like an explicit undefined
			ev = goja.Undefined()
		}
		if err := lw.storeValue(lst.Type, ev, ptr+uint32(i)*stride, elemPath); err != nil {
			return 0, 0, err
		}
	}
	return ptr, uint32(n), nil
}

// resultCase resolves the tag of a result value to a discriminant and
// its payload type.
func (lw *Lowerer) resultCase(r *wit.Result, obj *goja.Object, path []string) (uint32, wit.Type, error) {
	tagVal := obj.Get("tag")
	if tagVal == nil || goja.IsUndefined(tagVal) {
		return 0, nil, errors.InvalidVariantTag(errors.PhaseLower, path, "<missing>", "result")
	}

	switch tag := tagVal.Export().(type) {
	case string:
		switch tag {
		case "ok":
			return 0, r.OK, nil
		case "err":
			return 1, r.Err, nil
		}
	case int64:
		if tag == 0 {
			return 0, r.OK, nil
		}
		if tag == 1 {
			return 1, r.Err, nil
		}
	case float64:
		if tag == 0 {
			return 0, r.OK, nil
		}
		if tag == 1 {
			return 1, r.Err, nil
		}
	}
	return 0, nil, errors.InvalidVariantTag(errors.PhaseLower, path, tagVal.Export(), "result")
}

// variantCase resolves the tag of a variant value, accepting either a
// case ordinal or an exact case name.
func (lw *Lowerer) variantCase(vt *wit.Variant, obj *goja.Object, path []string) (uint32, error) {
	tagVal := obj.Get("tag")
	if tagVal == nil || goja.IsUndefined(tagVal) {
		return 0, errors.InvalidVariantTag(errors.PhaseLower, path, "<missing>", "variant")
	}

	switch tag := tagVal.Export().(type) {
	case string:
		for i, c := range vt.Cases {
			if c.Name == tag {
				return uint32(i), nil
			}
		}
	case int64:
		if tag >= 0 && tag < int64(len(vt.Cases)) {
			return uint32(tag), nil
		}
	case float64:
		if tag == math.Trunc(tag) && tag >= 0 && tag < float64(len(vt.Cases)) {
			return uint32(tag), nil
		}
	}
	return 0, errors.InvalidVariantTag(errors.PhaseLower, path, tagVal.Export(), "variant")
}

// enumDiscriminant resolves an enum value, accepting either a case
// ordinal or an exact case name.
func (lw *Lowerer) enumDiscriminant(e *wit.Enum, v goja.Value, path []string) (uint32, error) {
	if v == nil {
		return 0, errors.TypeMismatch(errors.PhaseLower, path, "undefined", "enum")
	}

	switch ev := v.Export().(type) {
	case string:
		for i, c := range e.Cases {
			if c.Name == ev {
				return uint32(i), nil
			}
		}
		return 0, errors.New(errors.PhaseLower, errors.KindInvalidDiscriminant).
			Path(path...).
			Detail("enum case %q not declared", ev).
			Build()
	case int64:
		if ev < 0 || ev >= int64(len(e.Cases)) {
			return 0, errors.InvalidDiscriminant(errors.PhaseLower, path, uint32(ev), uint32(len(e.Cases)))
		}
		return uint32(ev), nil
	case float64:
		n := v.ToInteger()
		if n < 0 || n >= int64(len(e.Cases)) {
			return 0, errors.InvalidDiscriminant(errors.PhaseLower, path, uint32(n), uint32(len(e.Cases)))
		}
		return uint32(n), nil
	default:
		return 0, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "enum")
	}
}

// flagsBits resolves a flags value to its bitmask, truncated to the
// declared label count.
func (lw *Lowerer) flagsBits(f *wit.Flags, v goja.Value, path []string) (uint32, error) {
	n, err := lw.scriptInteger(v, "flags", path)
	if err != nil {
		return 0, err
	}
	mask := uint32((uint64(1) << uint(len(f.Flags))) - 1)
	return uint32(n) & mask, nil
}

// charCode resolves a char value, accepting a single-character string
// or a raw code point number.
func (lw *Lowerer) charCode(v goja.Value, path []string) (uint32, error) {
	if v == nil {
		return 0, errors.TypeMismatch(errors.PhaseLower, path, "undefined", "char")
	}

	switch ev := v.Export().(type) {
	case string:
		r, size := utf8.DecodeRuneInString(ev)
		if size == 0 || size != len(ev) {
			return 0, errors.New(errors.PhaseLower, errors.KindTypeMismatch).
				Path(path...).
				ScriptType("string").
				WitType("char").
				Detail("expected a single-character string, got %d bytes", len(ev)).
				Build()
		}
		if !abi.ValidateChar(r) {
			return 0, errors.InvalidChar(errors.PhaseLower, path, uint32(r))
		}
		return uint32(r), nil
	case int64, float64:
		n := v.ToInteger()
		code := uint32(n)
		if int64(code) != n || !abi.ValidateChar(rune(code)) {
			return 0, errors.InvalidChar(errors.PhaseLower, path, code)
		}
		return code, nil
	default:
		return 0, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), "char")
	}
}

// scriptInteger extracts an integer, truncating fractional input the
// ECMAScript way and leaving width wrapping to the caller.
func (lw *Lowerer) scriptInteger(v goja.Value, witType string, path []string) (int64, error) {
	if !isNumber(v) {
		return 0, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), witType)
	}
	return v.ToInteger(), nil
}

func (lw *Lowerer) scriptFloat(v goja.Value, witType string, path []string) (float64, error) {
	if !isNumber(v) {
		return 0, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), witType)
	}
	return v.ToFloat(), nil
}

// arrayLike asserts an object with a numeric length property.
func (lw *Lowerer) arrayLike(v goja.Value, witType string, path []string) (*goja.Object, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseLower, path, scriptTypeName(v), witType)
	}
	length := obj.Get("length")
	if length == nil || goja.IsUndefined(length) {
		return nil, errors.New(errors.PhaseLower, errors.KindTypeMismatch).
			Path(path...).
			ScriptType(scriptTypeName(v)).
			WitType(witType).
			Detail("input has no length property").
			Build()
	}
	return obj, nil
}

func truthy(v goja.Value) bool {
	if v == nil {
		return false
	}
	return v.ToBoolean()
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsNull(v) || goja.IsUndefined(v)
}

func isNumber(v goja.Value) bool {
	if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return false
	}
	switch v.Export().(type) {
	case int64, float64:
		return true
	}
	return false
}

func exportString(v goja.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

// scriptTypeName reports the script-side type of a value for error
// messages.
func scriptTypeName(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		return strings.ToLower(obj.ClassName())
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	}
	return "unknown"
}
