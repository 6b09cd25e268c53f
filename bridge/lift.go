package bridge

import (
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// Lifter materializes script values from ABI form, either from flat core
// value slots or by reading linear memory.
type Lifter struct {
	rt     *goja.Runtime
	mem    Memory
	layout *abi.Calculator
}

func NewLifter(rt *goja.Runtime, mem Memory, layout *abi.Calculator) *Lifter {
	return &Lifter{rt: rt, mem: mem, layout: layout}
}

// LiftFlat materializes one value from flat core slots, returning the
// number of slots consumed. Variant-shaped types consume their padded
// slot count regardless of which case is present.
func (l *Lifter) LiftFlat(t wit.Type, flat []uint64) (goja.Value, int, error) {
	return l.liftValue(t, flat, nil)
}

// LiftRead materializes one value by reading linear memory at addr.
func (l *Lifter) LiftRead(t wit.Type, addr uint32) (goja.Value, error) {
	return l.loadValue(t, addr, nil)
}

func (l *Lifter) liftValue(witType wit.Type, flat []uint64, path []string) (goja.Value, int, error) {
	// Bounds check for primitives that access flat[0]
	if len(flat) < 1 {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values").
			Build()
	}

	switch t := witType.(type) {
	case wit.Bool:
		return l.rt.ToValue(flat[0] != 0), 1, nil
	case wit.U8:
		return l.rt.ToValue(uint8(flat[0])), 1, nil
	case wit.S8:
		return l.rt.ToValue(int8(flat[0])), 1, nil
	case wit.U16:
		return l.rt.ToValue(uint16(flat[0])), 1, nil
	case wit.S16:
		return l.rt.ToValue(int16(flat[0])), 1, nil
	case wit.U32:
		return l.rt.ToValue(uint32(flat[0])), 1, nil
	case wit.S32:
		return l.rt.ToValue(int32(flat[0])), 1, nil
	case wit.U64:
		return l.rt.ToValue(flat[0]), 1, nil
	case wit.S64:
		return l.rt.ToValue(int64(flat[0])), 1, nil
	case wit.F32:
		return l.rt.ToValue(math.Float32frombits(abi.CanonicalizeF32(uint32(flat[0])))), 1, nil
	case wit.F64:
		return l.rt.ToValue(math.Float64frombits(abi.CanonicalizeF64(flat[0]))), 1, nil
	case wit.Char:
		code := uint32(flat[0])
		if !abi.ValidateChar(rune(code)) {
			return nil, 0, errors.InvalidChar(errors.PhaseLift, path, code)
		}
		return l.rt.ToValue(string(rune(code))), 1, nil
	case wit.String:
		return l.liftString(flat, path)
	case *wit.TypeDef:
		return l.liftTypeDef(t, flat, path)
	default:
		return nil, 0, errors.Unsupported(errors.PhaseLift, "WIT type")
	}
}

func (l *Lifter) liftString(flat []uint64, path []string) (goja.Value, int, error) {
	if len(flat) < 2 {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values for string").
			Build()
	}

	s, err := l.readString(uint32(flat[0]), uint32(flat[1]), path)
	if err != nil {
		return nil, 0, err
	}
	return l.rt.ToValue(s), 2, nil
}

func (l *Lifter) readString(dataAddr, dataLen uint32, path []string) (string, error) {
	if dataLen == 0 {
		return "", nil
	}

	if dataLen > abi.MaxStringSize {
		return "", errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("string size %d exceeds maximum %d", dataLen, abi.MaxStringSize).
			Build()
	}

	data, err := l.mem.Read(dataAddr, dataLen)
	if err != nil {
		return "", errors.MemoryAccess(errors.PhaseLift, path, dataAddr, dataLen)
	}

	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseLift, path, data)
	}

	return string(data), nil
}

func (l *Lifter) liftTypeDef(t *wit.TypeDef, flat []uint64, path []string) (goja.Value, int, error) {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		return l.liftRecord(kind, flat, path)
	case *wit.List:
		return l.liftList(kind, flat, path)
	case *wit.Option:
		return l.liftOption(kind, flat, path)
	case *wit.Tuple:
		return l.liftTuple(kind, flat, path)
	case *wit.Enum:
		return l.liftEnum(kind, flat, path)
	case *wit.Flags:
		return l.liftFlags(flat, path)
	case *wit.Result:
		return l.liftResult(kind, flat, path)
	case *wit.Variant:
		return l.liftVariant(kind, flat, path)
	case *wit.Own, *wit.Borrow:
		if len(flat) < 1 {
			return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
				Path(path...).
				Detail("insufficient flat values for handle").
				Build()
		}
		return l.rt.ToValue(uint32(flat[0])), 1, nil
	case wit.Type:
		return l.liftValue(kind, flat, path)
	default:
		return nil, 0, errors.Unsupported(errors.PhaseLift, "TypeDef kind")
	}
}

func (l *Lifter) liftRecord(r *wit.Record, flat []uint64, path []string) (goja.Value, int, error) {
	obj := l.rt.NewObject()
	offset := 0

	for _, field := range r.Fields {
		fieldPath := append(append([]string{}, path...), field.Name)
		val, consumed, err := l.liftValue(field.Type, flat[offset:], fieldPath)
		if err != nil {
			return nil, 0, err
		}
		if err := obj.Set(ScriptName(field.Name), val); err != nil {
			return nil, 0, err
		}
		offset += consumed
	}

	return obj, offset, nil
}

func (l *Lifter) liftList(lst *wit.List, flat []uint64, path []string) (goja.Value, int, error) {
	if len(flat) < 2 {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values for list").
			Build()
	}

	dataAddr := uint32(flat[0])
	length := uint32(flat[1])

	arr, err := l.readList(lst, dataAddr, length, path)
	if err != nil {
		return nil, 0, err
	}
	return arr, 2, nil
}

func (l *Lifter) readList(lst *wit.List, dataAddr, length uint32, path []string) (goja.Value, error) {
	if length == 0 {
		return l.rt.NewArray(), nil
	}

	if length > abi.MaxListLength {
		return nil, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("list length %d exceeds maximum %d", length, abi.MaxListLength).
			Build()
	}

	elemInfo := l.layout.Calculate(lst.Type)
	stride := abi.AlignTo(elemInfo.Size, elemInfo.Align)
	byteLen, ok := abi.SafeMulU32(length, stride)
	if !ok {
		return nil, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("list byte length overflows (%d elements, stride %d)", length, stride).
			Build()
	}
	if end, ok := abi.SafeAddU32(dataAddr, byteLen); !ok || end > l.mem.Size() {
		return nil, errors.MemoryAccess(errors.PhaseLift, path, dataAddr, byteLen)
	}

	items := make([]interface{}, length)
	for i := uint32(0); i < length; i++ {
		elemPath := append(append([]string{}, path...), "["+strconv.FormatUint(uint64(i), 10)+"]")
		val, err := l.loadValue(lst.Type, dataAddr+i*stride, elemPath)
		if err != nil {
			return nil, err
		}
		items[i] = val
	}

	return l.rt.NewArray(items...), nil
}

func (l *Lifter) liftOption(o *wit.Option, flat []uint64, path []string) (goja.Value, int, error) {
	// Flat form is always disc + padded inner slots
	totalFlat := 1 + abi.FlatCount(o.Type)

	if len(flat) < totalFlat {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values for option: need %d, have %d", totalFlat, len(flat)).
			Build()
	}

	disc := flat[0]
	if disc == 0 {
		return goja.Null(), totalFlat, nil
	}
	if disc != 1 {
		return nil, 0, errors.InvalidDiscriminant(errors.PhaseLift, path, uint32(disc), 2)
	}

	somePath := append(append([]string{}, path...), "[some]")
	val, _, err := l.liftValue(o.Type, flat[1:], somePath)
	if err != nil {
		return nil, 0, err
	}
	return val, totalFlat, nil
}

func (l *Lifter) liftTuple(t *wit.Tuple, flat []uint64, path []string) (goja.Value, int, error) {
	items := make([]interface{}, len(t.Types))
	offset := 0

	for i, elemType := range t.Types {
		elemPath := append(append([]string{}, path...), "["+strconv.Itoa(i)+"]")
		val, consumed, err := l.liftValue(elemType, flat[offset:], elemPath)
		if err != nil {
			return nil, 0, err
		}
		items[i] = val
		offset += consumed
	}

	return l.rt.NewArray(items...), offset, nil
}

func (l *Lifter) liftEnum(e *wit.Enum, flat []uint64, path []string) (goja.Value, int, error) {
	disc := uint32(flat[0])
	if disc >= uint32(len(e.Cases)) {
		return nil, 0, errors.InvalidDiscriminant(errors.PhaseLift, path, disc, uint32(len(e.Cases)))
	}
	return l.rt.ToValue(disc), 1, nil
}

func (l *Lifter) liftFlags(flat []uint64, _ []string) (goja.Value, int, error) {
	return l.rt.ToValue(uint32(flat[0])), 1, nil
}

func (l *Lifter) liftResult(r *wit.Result, flat []uint64, path []string) (goja.Value, int, error) {
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

	if len(flat) < 1+maxPayload {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values for result: need %d, have %d", 1+maxPayload, len(flat)).
			Build()
	}

	disc := flat[0]
	if disc > 1 {
		return nil, 0, errors.InvalidDiscriminant(errors.PhaseLift, path, uint32(disc), 2)
	}

	obj := l.rt.NewObject()
	var tag string
	var payloadType wit.Type
	if disc == 0 {
		tag = "ok"
		payloadType = r.OK
	} else {
		tag = "err"
		payloadType = r.Err
	}

	if err := obj.Set("tag", tag); err != nil {
		return nil, 0, err
	}
	if payloadType != nil {
		payloadPath := append(append([]string{}, path...), "["+tag+"]")
		val, _, err := l.liftValue(payloadType, flat[1:], payloadPath)
		if err != nil {
			return nil, 0, err
		}
		if err := obj.Set("val", val); err != nil {
			return nil, 0, err
		}
	}

	return obj, 1 + maxPayload, nil
}

func (l *Lifter) liftVariant(v *wit.Variant, flat []uint64, path []string) (goja.Value, int, error) {
	maxPayload := 0
	for _, c := range v.Cases {
		if c.Type != nil {
			if n := abi.FlatCount(c.Type); n > maxPayload {
				maxPayload = n
			}
		}
	}

	if len(flat) < 1+maxPayload {
		return nil, 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Path(path...).
			Detail("insufficient flat values for variant: need %d, have %d", 1+maxPayload, len(flat)).
			Build()
	}

	disc := flat[0]
	if disc >= uint64(len(v.Cases)) {
		return nil, 0, errors.InvalidDiscriminant(errors.PhaseLift, path, uint32(disc), uint32(len(v.Cases)))
	}

	c := v.Cases[disc]
	obj := l.rt.NewObject()
	if err := obj.Set("tag", uint32(disc)); err != nil {
		return nil, 0, err
	}

	if c.Type != nil {
		casePath := append(append([]string{}, path...), c.Name)
		val, _, err := l.liftValue(c.Type, flat[1:], casePath)
		if err != nil {
			return nil, 0, err
		}
		if err := obj.Set("val", val); err != nil {
			return nil, 0, err
		}
	}

	return obj, 1 + maxPayload, nil
}

func (l *Lifter) loadValue(witType wit.Type, addr uint32, path []string) (goja.Value, error) {
	switch t := witType.(type) {
	case wit.Bool:
		v, err := l.mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(v != 0), nil

	case wit.U8:
		v, err := l.mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(v), nil

	case wit.S8:
		v, err := l.mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(int8(v)), nil

	case wit.U16:
		v, err := l.mem.ReadU16(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(v), nil

	case wit.S16:
		v, err := l.mem.ReadU16(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(int16(v)), nil

	case wit.U32:
		v, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(v), nil

	case wit.S32:
		v, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(int32(v)), nil

	case wit.U64:
		v, err := l.mem.ReadU64(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(v), nil

	case wit.S64:
		v, err := l.mem.ReadU64(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(int64(v)), nil

	case wit.F32:
		bits, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(math.Float32frombits(abi.CanonicalizeF32(bits))), nil

	case wit.F64:
		bits, err := l.mem.ReadU64(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(math.Float64frombits(abi.CanonicalizeF64(bits))), nil

	case wit.Char:
		code, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		if !abi.ValidateChar(rune(code)) {
			return nil, errors.InvalidChar(errors.PhaseLift, path, code)
		}
		return l.rt.ToValue(string(rune(code))), nil

	case wit.String:
		dataAddr, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		dataLen, err := l.mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		s, err := l.readString(dataAddr, dataLen, path)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(s), nil

	case *wit.TypeDef:
		return l.loadTypeDef(t, addr, path)

	default:
		return nil, errors.Unsupported(errors.PhaseLift, "WIT type for load")
	}
}

func (l *Lifter) loadTypeDef(t *wit.TypeDef, addr uint32, path []string) (goja.Value, error) {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		info := l.layout.Calculate(t)
		obj := l.rt.NewObject()
		for _, field := range kind.Fields {
			fieldPath := append(append([]string{}, path...), field.Name)
			val, err := l.loadValue(field.Type, addr+info.FieldOffs[field.Name], fieldPath)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(ScriptName(field.Name), val); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case *wit.List:
		dataAddr, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		length, err := l.mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		return l.readList(kind, dataAddr, length, path)

	case *wit.Option:
		info := l.layout.Calculate(t)
		disc, err := l.mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		if disc == 0 {
			return goja.Null(), nil
		}
		if disc != 1 {
			return nil, errors.InvalidDiscriminant(errors.PhaseLift, path, uint32(disc), 2)
		}
		somePath := append(append([]string{}, path...), "[some]")
		return l.loadValue(kind.Type, addr+info.PayloadOff, somePath)

	case *wit.Variant:
		info := l.layout.Calculate(t)
		disc, err := l.readDiscriminant(addr, info.Disc)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidDiscriminant(errors.PhaseLift, path, disc, uint32(len(kind.Cases)))
		}
		c := kind.Cases[disc]
		obj := l.rt.NewObject()
		if err := obj.Set("tag", disc); err != nil {
			return nil, err
		}
		if c.Type != nil {
			casePath := append(append([]string{}, path...), c.Name)
			val, err := l.loadValue(c.Type, addr+info.PayloadOff, casePath)
			if err != nil {
				return nil, err
			}
			if err := obj.Set("val", val); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case *wit.Tuple:
		info := l.layout.Calculate(t)
		items := make([]interface{}, len(kind.Types))
		for i, elemType := range kind.Types {
			elemPath := append(append([]string{}, path...), "["+strconv.Itoa(i)+"]")
			val, err := l.loadValue(elemType, addr+info.ElemOffs[i], elemPath)
			if err != nil {
				return nil, err
			}
			items[i] = val
		}
		return l.rt.NewArray(items...), nil

	case *wit.Result:
		info := l.layout.Calculate(t)
		disc, err := l.mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		if disc > 1 {
			return nil, errors.InvalidDiscriminant(errors.PhaseLift, path, uint32(disc), 2)
		}
		obj := l.rt.NewObject()
		var tag string
		var payloadType wit.Type
		if disc == 0 {
			tag = "ok"
			payloadType = kind.OK
		} else {
			tag = "err"
			payloadType = kind.Err
		}
		if err := obj.Set("tag", tag); err != nil {
			return nil, err
		}
		if payloadType != nil {
			payloadPath := append(append([]string{}, path...), "["+tag+"]")
			val, err := l.loadValue(payloadType, addr+info.PayloadOff, payloadPath)
			if err != nil {
				return nil, err
			}
			if err := obj.Set("val", val); err != nil {
				return nil, err
			}
		}
		return obj, nil

	case *wit.Enum:
		info := l.layout.Calculate(t)
		disc, err := l.readDiscriminant(addr, info.Disc)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidDiscriminant(errors.PhaseLift, path, disc, uint32(len(kind.Cases)))
		}
		return l.rt.ToValue(disc), nil

	case *wit.Flags:
		info := l.layout.Calculate(t)
		bits, err := l.readDiscriminant(addr, info.Size)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(bits), nil

	case *wit.Own, *wit.Borrow:
		handle, err := l.mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		return l.rt.ToValue(handle), nil

	case wit.Type:
		return l.loadValue(kind, addr, path)

	default:
		return nil, errors.Unsupported(errors.PhaseLift, "TypeDef kind for load")
	}
}

// readDiscriminant reads a 1, 2, or 4 byte little-endian value.
func (l *Lifter) readDiscriminant(addr, size uint32) (uint32, error) {
	switch size {
	case 1:
		v, err := l.mem.ReadU8(addr)
		return uint32(v), err
	case 2:
		v, err := l.mem.ReadU16(addr)
		return uint32(v), err
	default:
		return l.mem.ReadU32(addr)
	}
}
