package abi

import (
	"go.bytecodealliance.org/wit"
)

// Info describes the linear-memory layout of one type.
//
// Disc is the discriminant width for variant-shaped types (variant, enum,
// option, result), PayloadOff the offset of the payload region following it.
// Stride is the padded element size for lists. FieldOffs maps record field
// names to offsets; ElemOffs holds tuple slot offsets.
type Info struct {
	Size       uint32
	Align      uint32
	Disc       uint32
	PayloadOff uint32
	Stride     uint32
	FieldOffs  map[string]uint32
	ElemOffs   []uint32
}

// Calculator computes and caches layout Info per type.
//
// Results are a pure function of type structure; the cache keys on TypeDef
// identity, which the type graph guarantees is shared for structurally
// identical references within one Resolve. Not safe for concurrent use.
type Calculator struct {
	cache map[*wit.TypeDef]Info
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[*wit.TypeDef]Info),
	}
}

func (c *Calculator) Calculate(t wit.Type) Info {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Info{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Info{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Info{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Info{Size: 8, Align: 8}
	case wit.String:
		return Info{Size: 8, Align: 4} // [ptr: u32, len: u32]
	case *wit.TypeDef:
		return c.calculateTypeDef(typ)
	default:
		return Info{Size: 0, Align: 1}
	}
}

func (c *Calculator) calculateTypeDef(t *wit.TypeDef) Info {
	if cached, ok := c.cache[t]; ok {
		return cached
	}

	var info Info

	switch kind := t.Kind.(type) {
	case *wit.Record:
		info = c.calculateRecord(kind)
	case *wit.Variant:
		info = c.calculateVariant(kind)
	case *wit.Enum:
		info = c.calculateEnum(kind)
	case *wit.List:
		elem := c.Calculate(kind.Type)
		info = Info{Size: 8, Align: 4, Stride: AlignTo(elem.Size, elem.Align)}
	case *wit.Option:
		info = c.calculateOption(kind)
	case *wit.Result:
		info = c.calculateResult(kind)
	case *wit.Tuple:
		info = c.calculateTuple(kind)
	case *wit.Flags:
		info = c.calculateFlags(kind)
	case *wit.Own, *wit.Borrow:
		info = Info{Size: 4, Align: 4} // u32 handle
	case wit.Type:
		info = c.Calculate(kind)
	default:
		info = Info{Size: 0, Align: 1}
	}

	c.cache[t] = info
	return info
}

func (c *Calculator) calculateRecord(r *wit.Record) Info {
	if len(r.Fields) == 0 {
		return Info{Size: 0, Align: 1, FieldOffs: map[string]uint32{}}
	}

	fieldOffs := make(map[string]uint32, len(r.Fields))
	maxAlign := uint32(1)
	offset := uint32(0)

	for _, field := range r.Fields {
		fieldLayout := c.Calculate(field.Type)

		offset = AlignTo(offset, fieldLayout.Align)
		fieldOffs[field.Name] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		offset += fieldLayout.Size
	}

	return Info{
		Size:      AlignTo(offset, maxAlign),
		Align:     maxAlign,
		FieldOffs: fieldOffs,
	}
}

func (c *Calculator) calculateVariant(v *wit.Variant) Info {
	if len(v.Cases) == 0 {
		return Info{Size: 0, Align: 1}
	}

	discSize := DiscriminantSize(len(v.Cases))

	maxAlign := discSize
	maxSize := uint32(0)

	for _, cs := range v.Cases {
		if cs.Type != nil {
			caseLayout := c.Calculate(cs.Type)
			if caseLayout.Align > maxAlign {
				maxAlign = caseLayout.Align
			}
			if caseLayout.Size > maxSize {
				maxSize = caseLayout.Size
			}
		}
	}

	payloadOffset := AlignTo(discSize, maxAlign)

	return Info{
		Size:       AlignTo(payloadOffset+maxSize, maxAlign),
		Align:      maxAlign,
		Disc:       discSize,
		PayloadOff: payloadOffset,
	}
}

func (c *Calculator) calculateEnum(e *wit.Enum) Info {
	size := DiscriminantSize(len(e.Cases))
	return Info{Size: size, Align: size, Disc: size}
}

func (c *Calculator) calculateOption(o *wit.Option) Info {
	innerLayout := c.Calculate(o.Type)

	maxAlign := innerLayout.Align
	if maxAlign < 1 {
		maxAlign = 1
	}

	payloadOffset := AlignTo(1, maxAlign)

	return Info{
		Size:       AlignTo(payloadOffset+innerLayout.Size, maxAlign),
		Align:      maxAlign,
		Disc:       1,
		PayloadOff: payloadOffset,
	}
}

func (c *Calculator) calculateResult(r *wit.Result) Info {
	okSize := uint32(0)
	okAlign := uint32(1)
	if r.OK != nil {
		okLayout := c.Calculate(r.OK)
		okSize = okLayout.Size
		okAlign = okLayout.Align
	}

	errSize := uint32(0)
	errAlign := uint32(1)
	if r.Err != nil {
		errLayout := c.Calculate(r.Err)
		errSize = errLayout.Size
		errAlign = errLayout.Align
	}

	maxAlign := okAlign
	if errAlign > maxAlign {
		maxAlign = errAlign
	}

	maxSize := okSize
	if errSize > maxSize {
		maxSize = errSize
	}

	payloadOffset := AlignTo(1, maxAlign)

	return Info{
		Size:       AlignTo(payloadOffset+maxSize, maxAlign),
		Align:      maxAlign,
		Disc:       1,
		PayloadOff: payloadOffset,
	}
}

func (c *Calculator) calculateTuple(t *wit.Tuple) Info {
	if len(t.Types) == 0 {
		return Info{Size: 0, Align: 1}
	}

	elemOffs := make([]uint32, len(t.Types))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, typ := range t.Types {
		elemLayout := c.Calculate(typ)
		offset = AlignTo(offset, elemLayout.Align)
		elemOffs[i] = offset

		if elemLayout.Align > maxAlign {
			maxAlign = elemLayout.Align
		}

		offset += elemLayout.Size
	}

	return Info{
		Size:     AlignTo(offset, maxAlign),
		Align:    maxAlign,
		ElemOffs: elemOffs,
	}
}

// calculateFlags sizes flags to the smallest power-of-two byte count holding
// the labels, capped at 4 bytes. Worlds with more than 32 labels are rejected
// during validation before any layout is computed.
func (c *Calculator) calculateFlags(f *wit.Flags) Info {
	numFlags := len(f.Flags)

	if numFlags == 0 {
		return Info{Size: 0, Align: 1}
	}

	if numFlags <= 8 {
		return Info{Size: 1, Align: 1}
	} else if numFlags <= 16 {
		return Info{Size: 2, Align: 2}
	}
	return Info{Size: 4, Align: 4}
}
