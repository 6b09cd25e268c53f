package abi

import (
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

func typesEqual(got, want []CoreValType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestFlattenPrimitives(t *testing.T) {
	tests := []struct {
		typ  wit.Type
		name string
		want []CoreValType
	}{
		{wit.Bool{}, "bool", []CoreValType{api.ValueTypeI32}},
		{wit.U8{}, "u8", []CoreValType{api.ValueTypeI32}},
		{wit.S32{}, "s32", []CoreValType{api.ValueTypeI32}},
		{wit.U64{}, "u64", []CoreValType{api.ValueTypeI64}},
		{wit.S64{}, "s64", []CoreValType{api.ValueTypeI64}},
		{wit.F32{}, "f32", []CoreValType{api.ValueTypeF32}},
		{wit.F64{}, "f64", []CoreValType{api.ValueTypeF64}},
		{wit.Char{}, "char", []CoreValType{api.ValueTypeI32}},
		{wit.String{}, "string", []CoreValType{api.ValueTypeI32, api.ValueTypeI32}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FlattenType(tc.typ)
			if !typesEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFlattenCompound(t *testing.T) {
	point := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.S32{}},
		{Name: "y", Type: wit.S32{}},
	}}}

	tests := []struct {
		typ  wit.Type
		name string
		want []CoreValType
	}{
		{point, "record", []CoreValType{api.ValueTypeI32, api.ValueTypeI32}},
		{
			&wit.TypeDef{Kind: &wit.List{Type: wit.U64{}}},
			"list",
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI32},
		},
		{
			&wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U8{}, wit.F64{}}}},
			"tuple",
			[]CoreValType{api.ValueTypeI32, api.ValueTypeF64},
		},
		{
			&wit.TypeDef{Kind: &wit.Option{Type: wit.F32{}}},
			"option",
			[]CoreValType{api.ValueTypeI32, api.ValueTypeF32},
		},
		{
			&wit.TypeDef{Kind: &wit.Enum{Cases: []wit.EnumCase{{Name: "a"}, {Name: "b"}}}},
			"enum",
			[]CoreValType{api.ValueTypeI32},
		},
		{
			&wit.TypeDef{Kind: &wit.Flags{Flags: []wit.Flag{{Name: "r"}, {Name: "w"}}}},
			"flags",
			[]CoreValType{api.ValueTypeI32},
		},
		{
			&wit.TypeDef{Kind: &wit.Own{}},
			"own_handle",
			[]CoreValType{api.ValueTypeI32},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FlattenType(tc.typ)
			if !typesEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFlattenVariantJoin(t *testing.T) {
	tests := []struct {
		name string
		kind wit.TypeDefKind
		want []CoreValType
	}{
		{
			// i32 and f32 payloads share an i32 slot
			"i32_f32",
			&wit.Variant{Cases: []wit.Case{
				{Name: "a", Type: wit.U32{}},
				{Name: "b", Type: wit.F32{}},
			}},
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI32},
		},
		{
			// mixed sizes require i64
			"f64_u32",
			&wit.Result{OK: wit.F64{}, Err: wit.U32{}},
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI64},
		},
		{
			"uneven_payloads",
			&wit.Variant{Cases: []wit.Case{
				{Name: "pair", Type: &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U32{}, wit.U32{}}}}},
				{Name: "one", Type: wit.U32{}},
			}},
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
		},
		{
			"bare_result",
			&wit.Result{},
			[]CoreValType{api.ValueTypeI32},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FlattenType(&wit.TypeDef{Kind: tc.kind})
			if !typesEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewSignature(t *testing.T) {
	t.Run("flat_both_ways", func(t *testing.T) {
		sig := NewSignature([]wit.Type{wit.S32{}, wit.S32{}}, wit.S32{}, DirExport)
		if sig.ParamsIndirect || sig.RetPtr {
			t.Error("small signature should not spill")
		}
		if !typesEqual(sig.Params, []CoreValType{api.ValueTypeI32, api.ValueTypeI32}) {
			t.Errorf("params: got %v", sig.Params)
		}
		if !typesEqual(sig.Results, []CoreValType{api.ValueTypeI32}) {
			t.Errorf("results: got %v", sig.Results)
		}
	})

	t.Run("no_result", func(t *testing.T) {
		sig := NewSignature([]wit.Type{wit.String{}}, nil, DirImport)
		if len(sig.Results) != 0 || sig.RetPtr {
			t.Errorf("got results %v retptr %v", sig.Results, sig.RetPtr)
		}
	})

	t.Run("params_spill", func(t *testing.T) {
		params := make([]wit.Type, 17)
		for i := range params {
			params[i] = wit.U32{}
		}
		sig := NewSignature(params, nil, DirExport)
		if !sig.ParamsIndirect {
			t.Error("17 flat params should spill to memory")
		}
		if !typesEqual(sig.Params, []CoreValType{api.ValueTypeI32}) {
			t.Errorf("params: got %v, want single pointer", sig.Params)
		}
	})

	t.Run("result_spill_export", func(t *testing.T) {
		sig := NewSignature(nil, wit.String{}, DirExport)
		if !sig.RetPtr {
			t.Error("string result should spill")
		}
		if !typesEqual(sig.Results, []CoreValType{api.ValueTypeI32}) {
			t.Errorf("results: got %v, want returned pointer", sig.Results)
		}
		if len(sig.Params) != 0 {
			t.Errorf("params: got %v, want none", sig.Params)
		}
	})

	t.Run("result_spill_import", func(t *testing.T) {
		sig := NewSignature([]wit.Type{wit.U32{}}, wit.String{}, DirImport)
		if !sig.RetPtr {
			t.Error("string result should spill")
		}
		if !typesEqual(sig.Params, []CoreValType{api.ValueTypeI32, api.ValueTypeI32}) {
			t.Errorf("params: got %v, want arg + retptr", sig.Params)
		}
		if len(sig.Results) != 0 {
			t.Errorf("results: got %v, want none", sig.Results)
		}
	})

	t.Run("exactly_sixteen_params", func(t *testing.T) {
		params := make([]wit.Type, 16)
		for i := range params {
			params[i] = wit.U32{}
		}
		sig := NewSignature(params, nil, DirExport)
		if sig.ParamsIndirect {
			t.Error("16 flat params should stay flat")
		}
	})
}
