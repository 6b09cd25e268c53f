package abi

import (
	"fmt"
	"testing"

	"go.bytecodealliance.org/wit"
)

func TestCalculatePrimitives(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		typ   wit.Type
		name  string
		size  uint32
		align uint32
	}{
		{wit.Bool{}, "bool", 1, 1},
		{wit.U8{}, "u8", 1, 1},
		{wit.S8{}, "s8", 1, 1},
		{wit.U16{}, "u16", 2, 2},
		{wit.S16{}, "s16", 2, 2},
		{wit.U32{}, "u32", 4, 4},
		{wit.S32{}, "s32", 4, 4},
		{wit.U64{}, "u64", 8, 8},
		{wit.S64{}, "s64", 8, 8},
		{wit.F32{}, "f32", 4, 4},
		{wit.F64{}, "f64", 8, 8},
		{wit.Char{}, "char", 4, 4},
		{wit.String{}, "string", 8, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := c.Calculate(tc.typ)
			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.align {
				t.Errorf("align: got %d, want %d", info.Align, tc.align)
			}
		})
	}
}

func TestCalculateRecord(t *testing.T) {
	c := NewCalculator()

	t.Run("empty", func(t *testing.T) {
		record := &wit.Record{Fields: []wit.Field{}}
		typedef := &wit.TypeDef{Kind: record}
		info := c.Calculate(typedef)
		if info.Size != 0 {
			t.Errorf("size: got %d, want 0", info.Size)
		}
	})

	t.Run("single_u32", func(t *testing.T) {
		record := &wit.Record{
			Fields: []wit.Field{{Name: "x", Type: wit.U32{}}},
		}
		typedef := &wit.TypeDef{Kind: record}
		info := c.Calculate(typedef)
		if info.Size != 4 {
			t.Errorf("size: got %d, want 4", info.Size)
		}
		if info.Align != 4 {
			t.Errorf("align: got %d, want 4", info.Align)
		}
		if info.FieldOffs["x"] != 0 {
			t.Errorf("field x offset: got %d, want 0", info.FieldOffs["x"])
		}
	})

	t.Run("mixed_alignment", func(t *testing.T) {
		record := &wit.Record{
			Fields: []wit.Field{
				{Name: "a", Type: wit.U8{}},
				{Name: "b", Type: wit.U32{}},
				{Name: "c", Type: wit.U8{}},
			},
		}
		typedef := &wit.TypeDef{Kind: record}
		info := c.Calculate(typedef)

		if info.FieldOffs["a"] != 0 {
			t.Errorf("field a offset: got %d, want 0", info.FieldOffs["a"])
		}
		if info.FieldOffs["b"] != 4 {
			t.Errorf("field b offset: got %d, want 4", info.FieldOffs["b"])
		}
		if info.FieldOffs["c"] != 8 {
			t.Errorf("field c offset: got %d, want 8", info.FieldOffs["c"])
		}
		if info.Size != 12 {
			t.Errorf("size: got %d, want 12 (padded to align 4)", info.Size)
		}
		if info.Align != 4 {
			t.Errorf("align: got %d, want 4", info.Align)
		}
	})
}

func TestCalculateTuple(t *testing.T) {
	c := NewCalculator()

	tuple := &wit.Tuple{Types: []wit.Type{wit.U8{}, wit.U32{}, wit.U8{}}}
	typedef := &wit.TypeDef{Kind: tuple}
	info := c.Calculate(typedef)

	wantOffs := []uint32{0, 4, 8}
	for i, want := range wantOffs {
		if info.ElemOffs[i] != want {
			t.Errorf("elem %d offset: got %d, want %d", i, info.ElemOffs[i], want)
		}
	}
	if info.Size != 12 {
		t.Errorf("size: got %d, want 12", info.Size)
	}
	if info.Align != 4 {
		t.Errorf("align: got %d, want 4", info.Align)
	}
}

func TestCalculateVariant(t *testing.T) {
	c := NewCalculator()

	t.Run("payloads", func(t *testing.T) {
		variant := &wit.Variant{
			Cases: []wit.Case{
				{Name: "none"},
				{Name: "small", Type: wit.U32{}},
				{Name: "big", Type: wit.U64{}},
			},
		}
		typedef := &wit.TypeDef{Kind: variant}
		info := c.Calculate(typedef)

		if info.Disc != 1 {
			t.Errorf("disc: got %d, want 1", info.Disc)
		}
		if info.PayloadOff != 8 {
			t.Errorf("payload offset: got %d, want 8", info.PayloadOff)
		}
		if info.Size != 16 {
			t.Errorf("size: got %d, want 16", info.Size)
		}
		if info.Align != 8 {
			t.Errorf("align: got %d, want 8", info.Align)
		}
	})

	t.Run("no_payloads", func(t *testing.T) {
		variant := &wit.Variant{
			Cases: []wit.Case{{Name: "a"}, {Name: "b"}},
		}
		typedef := &wit.TypeDef{Kind: variant}
		info := c.Calculate(typedef)

		if info.Size != 1 || info.Align != 1 {
			t.Errorf("got size %d align %d, want 1/1", info.Size, info.Align)
		}
	})

	t.Run("wide_discriminant", func(t *testing.T) {
		cases := make([]wit.Case, 300)
		for i := range cases {
			cases[i] = wit.Case{Name: fmt.Sprintf("c%d", i)}
		}
		typedef := &wit.TypeDef{Kind: &wit.Variant{Cases: cases}}
		info := c.Calculate(typedef)

		if info.Disc != 2 {
			t.Errorf("disc: got %d, want 2", info.Disc)
		}
		if info.Size != 2 {
			t.Errorf("size: got %d, want 2", info.Size)
		}
	})
}

func TestCalculateEnum(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name  string
		cases int
		size  uint32
	}{
		{"three_cases", 3, 1},
		{"max_byte", 256, 1},
		{"two_bytes", 257, 2},
		{"four_bytes", 70000, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cases := make([]wit.EnumCase, tc.cases)
			for i := range cases {
				cases[i] = wit.EnumCase{Name: fmt.Sprintf("c%d", i)}
			}
			typedef := &wit.TypeDef{Kind: &wit.Enum{Cases: cases}}
			info := c.Calculate(typedef)

			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.size {
				t.Errorf("align: got %d, want %d", info.Align, tc.size)
			}
			if info.Disc != tc.size {
				t.Errorf("disc: got %d, want %d", info.Disc, tc.size)
			}
		})
	}
}

func TestCalculateOption(t *testing.T) {
	c := NewCalculator()

	t.Run("option_u32", func(t *testing.T) {
		typedef := &wit.TypeDef{Kind: &wit.Option{Type: wit.U32{}}}
		info := c.Calculate(typedef)

		if info.Disc != 1 {
			t.Errorf("disc: got %d, want 1", info.Disc)
		}
		if info.PayloadOff != 4 {
			t.Errorf("payload offset: got %d, want 4", info.PayloadOff)
		}
		if info.Size != 8 {
			t.Errorf("size: got %d, want 8", info.Size)
		}
	})

	t.Run("option_u8", func(t *testing.T) {
		typedef := &wit.TypeDef{Kind: &wit.Option{Type: wit.U8{}}}
		info := c.Calculate(typedef)

		if info.PayloadOff != 1 {
			t.Errorf("payload offset: got %d, want 1", info.PayloadOff)
		}
		if info.Size != 2 {
			t.Errorf("size: got %d, want 2", info.Size)
		}
	})
}

func TestCalculateResult(t *testing.T) {
	c := NewCalculator()

	t.Run("string_or_u32", func(t *testing.T) {
		typedef := &wit.TypeDef{Kind: &wit.Result{OK: wit.String{}, Err: wit.U32{}}}
		info := c.Calculate(typedef)

		if info.PayloadOff != 4 {
			t.Errorf("payload offset: got %d, want 4", info.PayloadOff)
		}
		if info.Size != 12 {
			t.Errorf("size: got %d, want 12", info.Size)
		}
		if info.Align != 4 {
			t.Errorf("align: got %d, want 4", info.Align)
		}
	})

	t.Run("bare", func(t *testing.T) {
		typedef := &wit.TypeDef{Kind: &wit.Result{}}
		info := c.Calculate(typedef)

		if info.Size != 1 || info.Align != 1 {
			t.Errorf("got size %d align %d, want 1/1", info.Size, info.Align)
		}
	})
}

func TestCalculateList(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name   string
		elem   wit.Type
		stride uint32
	}{
		{"u16", wit.U16{}, 2},
		{"u64", wit.U64{}, 8},
		{"string", wit.String{}, 8},
		{"record_u8_u32", &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
			{Name: "a", Type: wit.U8{}},
			{Name: "b", Type: wit.U32{}},
		}}}, 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typedef := &wit.TypeDef{Kind: &wit.List{Type: tc.elem}}
			info := c.Calculate(typedef)

			if info.Size != 8 || info.Align != 4 {
				t.Errorf("got size %d align %d, want 8/4", info.Size, info.Align)
			}
			if info.Stride != tc.stride {
				t.Errorf("stride: got %d, want %d", info.Stride, tc.stride)
			}
		})
	}
}

func TestCalculateFlags(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name  string
		count int
		size  uint32
	}{
		{"three", 3, 1},
		{"eight", 8, 1},
		{"nine", 9, 2},
		{"sixteen", 16, 2},
		{"seventeen", 17, 4},
		{"thirty_two", 32, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags := make([]wit.Flag, tc.count)
			for i := range flags {
				flags[i] = wit.Flag{Name: fmt.Sprintf("f%d", i)}
			}
			typedef := &wit.TypeDef{Kind: &wit.Flags{Flags: flags}}
			info := c.Calculate(typedef)

			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.size {
				t.Errorf("align: got %d, want %d", info.Align, tc.size)
			}
		})
	}
}

func TestCalculateHandles(t *testing.T) {
	c := NewCalculator()

	for _, kind := range []wit.TypeDefKind{&wit.Own{}, &wit.Borrow{}} {
		typedef := &wit.TypeDef{Kind: kind}
		info := c.Calculate(typedef)
		if info.Size != 4 || info.Align != 4 {
			t.Errorf("%T: got size %d align %d, want 4/4", kind, info.Size, info.Align)
		}
	}
}

func TestCalculateCaching(t *testing.T) {
	c := NewCalculator()

	typedef := &wit.TypeDef{Kind: &wit.Record{
		Fields: []wit.Field{
			{Name: "x", Type: wit.F64{}},
			{Name: "y", Type: wit.F64{}},
		},
	}}

	first := c.Calculate(typedef)
	second := c.Calculate(typedef)

	if first.Size != second.Size || first.Align != second.Align {
		t.Error("repeated calculation not stable")
	}
	if first.FieldOffs["y"] != 8 || second.FieldOffs["y"] != 8 {
		t.Errorf("field y offset: got %d/%d, want 8", first.FieldOffs["y"], second.FieldOffs["y"])
	}
}
