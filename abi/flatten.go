package abi

import (
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// Canonical ABI flattening limits
const (
	MaxFlatParams  = 16
	MaxFlatResults = 1
)

// CoreValType is a core wasm value type
type CoreValType = api.ValueType

// Direction selects which side of a call owns a spilled result region.
type Direction int

const (
	// DirExport: the entry point allocates the result region and returns
	// its pointer as the single core result.
	DirExport Direction = iota
	// DirImport: the calling bridge allocates the result region and passes
	// its pointer as a trailing core parameter.
	DirImport
)

// Signature is the core-level shape of one function after flattening and
// the per-signature convention choice.
type Signature struct {
	Params  []CoreValType // core params, including retptr when RetPtr is set
	Results []CoreValType // core results
	// ParamsIndirect: flattened params exceeded MaxFlatParams, so they are
	// written to memory and passed as a single pointer.
	ParamsIndirect bool
	// RetPtr: the flattened result exceeded MaxFlatResults, so it lives in
	// memory per the Direction convention.
	RetPtr bool
}

// NewSignature computes the flat signature for the given param and result
// types, applying the MaxFlatParams/MaxFlatResults spill rules.
func NewSignature(params []wit.Type, result wit.Type, dir Direction) Signature {
	sig := Signature{}

	for _, p := range params {
		sig.Params = append(sig.Params, FlattenType(p)...)
	}
	if len(sig.Params) > MaxFlatParams {
		sig.Params = []CoreValType{api.ValueTypeI32}
		sig.ParamsIndirect = true
	}

	if result != nil {
		sig.Results = FlattenType(result)
	}
	if len(sig.Results) > MaxFlatResults {
		sig.RetPtr = true
		switch dir {
		case DirExport:
			sig.Results = []CoreValType{api.ValueTypeI32}
		case DirImport:
			sig.Params = append(sig.Params, api.ValueTypeI32)
			sig.Results = nil
		}
	}

	return sig
}

// FlattenType flattens a WIT type to core wasm types
func FlattenType(t wit.Type) []CoreValType {
	if t == nil {
		return nil
	}

	switch v := t.(type) {
	case wit.Bool, wit.U8, wit.U16, wit.U32, wit.S8, wit.S16, wit.S32, wit.Char:
		return []CoreValType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []CoreValType{api.ValueTypeI64}
	case wit.F32:
		return []CoreValType{api.ValueTypeF32}
	case wit.F64:
		return []CoreValType{api.ValueTypeF64}
	case wit.String:
		return []CoreValType{api.ValueTypeI32, api.ValueTypeI32} // ptr, len
	case *wit.TypeDef:
		return flattenTypeDef(v)
	default:
		return []CoreValType{api.ValueTypeI32}
	}
}

// FlatCount returns the number of core values a type flattens to.
func FlatCount(t wit.Type) int {
	return len(FlattenType(t))
}

func flattenTypeDef(td *wit.TypeDef) []CoreValType {
	if td == nil || td.Kind == nil {
		return []CoreValType{api.ValueTypeI32}
	}

	switch kind := td.Kind.(type) {
	case *wit.Record:
		var flat []CoreValType
		for _, field := range kind.Fields {
			flat = append(flat, FlattenType(field.Type)...)
		}
		return flat
	case *wit.List:
		return []CoreValType{api.ValueTypeI32, api.ValueTypeI32} // ptr, len
	case *wit.Tuple:
		var flat []CoreValType
		for _, elem := range kind.Types {
			flat = append(flat, FlattenType(elem)...)
		}
		return flat
	case *wit.Variant:
		return flattenVariant(kind)
	case *wit.Enum:
		return []CoreValType{api.ValueTypeI32} // discriminant only
	case *wit.Option:
		discrim := []CoreValType{api.ValueTypeI32}
		if kind.Type != nil {
			return append(discrim, FlattenType(kind.Type)...)
		}
		return discrim
	case *wit.Result:
		return flattenResult(kind)
	case *wit.Flags:
		return []CoreValType{api.ValueTypeI32}
	case *wit.Own, *wit.Borrow:
		return []CoreValType{api.ValueTypeI32} // resource handle
	case wit.Type:
		return FlattenType(kind)
	default:
		return []CoreValType{api.ValueTypeI32}
	}
}

// flattenVariant flattens to discriminant + union of case payloads
func flattenVariant(v *wit.Variant) []CoreValType {
	discrim := []CoreValType{api.ValueTypeI32}
	var payload []CoreValType
	for _, c := range v.Cases {
		if c.Type != nil {
			caseFlat := FlattenType(c.Type)
			for i, ft := range caseFlat {
				if i < len(payload) {
					payload[i] = joinTypes(payload[i], ft)
				} else {
					payload = append(payload, ft)
				}
			}
		}
	}

	return append(discrim, payload...)
}

// flattenResult flattens result<T, E> as discriminant + union(T, E)
func flattenResult(r *wit.Result) []CoreValType {
	discrim := []CoreValType{api.ValueTypeI32}
	var payload []CoreValType
	if r.OK != nil {
		payload = FlattenType(r.OK)
	}
	if r.Err != nil {
		errFlat := FlattenType(r.Err)
		for i, ft := range errFlat {
			if i < len(payload) {
				payload[i] = joinTypes(payload[i], ft)
			} else {
				payload = append(payload, ft)
			}
		}
	}

	return append(discrim, payload...)
}

// joinTypes unions two core types for variant payloads
func joinTypes(a, b CoreValType) CoreValType {
	if a == b {
		return a
	}
	// 32-bit types can share storage
	if (a == api.ValueTypeI32 && b == api.ValueTypeF32) ||
		(a == api.ValueTypeF32 && b == api.ValueTypeI32) {
		return api.ValueTypeI32
	}
	// Different sizes require i64
	return api.ValueTypeI64
}
