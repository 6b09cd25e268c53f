package dispatch

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

func strptr(s string) *string { return &s }

func freeFn(name string, result wit.Type, params ...wit.Param) *wit.Function {
	return &wit.Function{
		Name:   name,
		Kind:   wit.Freestanding{},
		Params: params,
		Result: result,
	}
}

func p(name string, t wit.Type) wit.Param {
	return wit.Param{Name: name, Type: t}
}

func manyParams(n int) []wit.Param {
	ps := make([]wit.Param, n)
	for i := range ps {
		ps[i] = p("p"+strconv.Itoa(i), wit.U32{})
	}
	return ps
}

// testWorld declares one versioned imported interface with constants, a
// bare import, a type-only import, and exports covering every signature
// convention.
func testWorld() *wit.World {
	pkg := &wit.Package{Name: wit.Ident{
		Namespace: "docs",
		Package:   "calculator",
		Version:   semver.New("0.1.0"),
	}}

	point := &wit.TypeDef{
		Name: strptr("point"),
		Kind: &wit.Record{Fields: []wit.Field{
			{Name: "x", Type: wit.U32{}},
			{Name: "y", Type: wit.U32{}},
		}},
	}
	color := &wit.TypeDef{
		Name: strptr("color"),
		Kind: &wit.Enum{Cases: []wit.EnumCase{{Name: "red"}, {Name: "green"}, {Name: "blue"}}},
	}
	perms := &wit.TypeDef{
		Name: strptr("perms"),
		Kind: &wit.Flags{Flags: []wit.Flag{{Name: "read"}, {Name: "write"}, {Name: "exec"}}},
	}

	host := &wit.Interface{Name: strptr("host"), Package: pkg}
	host.TypeDefs.Set("color", color)
	host.TypeDefs.Set("perms", perms)
	host.Functions.Set("add-u32", freeFn("add-u32", wit.U32{}, p("a", wit.U32{}), p("b", wit.U32{})))
	host.Functions.Set("greet", freeFn("greet", wit.String{}, p("name", wit.String{})))
	host.Functions.Set("make-point", freeFn("make-point", point))
	host.Functions.Set("many", freeFn("many", wit.U32{}, manyParams(17)...))

	w := &wit.World{Name: "calc"}
	w.Imports.Set("docs:calculator/host@0.1.0", host)
	w.Imports.Set("log-line", freeFn("log-line", nil, p("msg", wit.String{})))
	w.Imports.Set("point", point)

	divResult := &wit.TypeDef{Kind: &wit.Result{OK: wit.U32{}, Err: wit.String{}}}
	w.Exports.Set("safe-divide", freeFn("safe-divide", divResult, p("a", wit.U32{}), p("b", wit.U32{})))
	w.Exports.Set("describe", freeFn("describe", wit.String{}, p("c", color)))
	return w
}

func mustTable(t *testing.T, w *wit.World) *Table {
	t.Helper()
	table, err := NewTable(w, abi.NewCalculator())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", kind)
	}
	werr, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("error type = %T, want *errors.Error: %v", err, err)
	}
	if werr.Kind != kind {
		t.Errorf("Kind = %v, want %v (error: %v)", werr.Kind, kind, werr)
	}
}

func TestNewTable_Entries(t *testing.T) {
	table := mustTable(t, testWorld())

	wantImports := []struct {
		iface, name, script string
	}{
		{"docs:calculator/host@0.1.0", "add-u32", "addU32"},
		{"docs:calculator/host@0.1.0", "greet", "greet"},
		{"docs:calculator/host@0.1.0", "make-point", "makePoint"},
		{"docs:calculator/host@0.1.0", "many", "many"},
		{"", "log-line", "logLine"},
	}
	if len(table.Imports) != len(wantImports) {
		t.Fatalf("Imports = %d entries, want %d", len(table.Imports), len(wantImports))
	}
	for i, want := range wantImports {
		imp := table.Imports[i]
		if imp.Interface != want.iface || imp.Name != want.name || imp.ScriptName != want.script {
			t.Errorf("Imports[%d] = {%q %q %q}, want {%q %q %q}",
				i, imp.Interface, imp.Name, imp.ScriptName, want.iface, want.name, want.script)
		}
	}

	if len(table.Exports) != 2 {
		t.Fatalf("Exports = %d entries, want 2", len(table.Exports))
	}
	if table.Exports[0].Name != "safe-divide" || table.Exports[0].ScriptName != "safeDivide" {
		t.Errorf("Exports[0] = {%q %q}", table.Exports[0].Name, table.Exports[0].ScriptName)
	}
}

func TestNewTable_FlatSignatures(t *testing.T) {
	table := mustTable(t, testWorld())

	// (u32, u32) -> u32 stays fully flat.
	add := table.Imports[0].FlatSig
	if len(add.Params) != 2 || len(add.Results) != 1 || add.ParamsIndirect || add.RetPtr {
		t.Errorf("add-u32 signature = %+v", add)
	}

	// A string result spills to a caller-side retptr on the import path:
	// (ptr, len, retptr) -> ().
	greet := table.Imports[1].FlatSig
	if len(greet.Params) != 3 || len(greet.Results) != 0 || !greet.RetPtr {
		t.Errorf("greet signature = %+v", greet)
	}

	// A two-field record result also spills: (retptr) -> ().
	makePoint := table.Imports[2].FlatSig
	if len(makePoint.Params) != 1 || len(makePoint.Results) != 0 || !makePoint.RetPtr {
		t.Errorf("make-point signature = %+v", makePoint)
	}

	// Seventeen u32 params exceed the flat limit and spill to memory.
	many := table.Imports[3].FlatSig
	if !many.ParamsIndirect || len(many.Params) != 1 || len(many.Results) != 1 {
		t.Errorf("many signature = %+v", many)
	}

	// On the export path the callee returns the retptr it filled.
	div := table.Exports[0].FlatSig
	if !div.RetPtr || len(div.Results) != 1 || len(div.Params) != 2 {
		t.Errorf("safe-divide signature = %+v", div)
	}
}

func TestNewTable_InterfaceConstants(t *testing.T) {
	table := mustTable(t, testWorld())

	if len(table.Interfaces) != 1 {
		t.Fatalf("Interfaces = %d entries, want 1", len(table.Interfaces))
	}
	meta := table.Interfaces[0]
	if meta.Name != "docs:calculator/host@0.1.0" {
		t.Errorf("Name = %q", meta.Name)
	}
	if meta.Alias != "docs:calculator/host" {
		t.Errorf("Alias = %q", meta.Alias)
	}
	wantEnums := []EnumConst{{Name: "color", Cases: []string{"red", "green", "blue"}}}
	if !reflect.DeepEqual(meta.Enums, wantEnums) {
		t.Errorf("Enums = %+v, want %+v", meta.Enums, wantEnums)
	}
	wantFlags := []FlagsConst{{Name: "perms", Labels: []string{"read", "write", "exec"}}}
	if !reflect.DeepEqual(meta.Flags, wantFlags) {
		t.Errorf("Flags = %+v, want %+v", meta.Flags, wantFlags)
	}
}

func TestNewTable_UnversionedInterface(t *testing.T) {
	pkg := &wit.Package{Name: wit.Ident{Namespace: "test", Package: "dep"}}
	iface := &wit.Interface{Name: strptr("ops"), Package: pkg}
	iface.Functions.Set("run", freeFn("run", nil))

	w := &wit.World{Name: "plain"}
	w.Imports.Set("test:dep/ops", iface)

	table := mustTable(t, w)
	if table.Imports[0].Interface != "test:dep/ops" {
		t.Errorf("Interface = %q", table.Imports[0].Interface)
	}
	if table.Imports[0].Alias != "" {
		t.Errorf("Alias = %q, want empty for unversioned interface", table.Imports[0].Alias)
	}
}

func TestNewTable_ExportedInterface(t *testing.T) {
	pkg := &wit.Package{Name: wit.Ident{Namespace: "test", Package: "dep"}}
	iface := &wit.Interface{Name: strptr("ops"), Package: pkg}
	iface.Functions.Set("run-fast", freeFn("run-fast", wit.U32{}))

	w := &wit.World{Name: "out"}
	w.Exports.Set("test:dep/ops", iface)

	table := mustTable(t, w)
	exp, ok := table.Export("test:dep/ops#run-fast")
	if !ok {
		t.Fatalf("interface export not addressable by wire name")
	}
	if exp.ScriptName != "runFast" || exp.Interface != "test:dep/ops" {
		t.Errorf("export = {%q %q %q}", exp.Interface, exp.Name, exp.ScriptName)
	}
}

func TestNewTable_ScriptNameCollision(t *testing.T) {
	pkg := &wit.Package{Name: wit.Ident{Namespace: "test", Package: "dep"}}
	iface := &wit.Interface{Name: strptr("ops"), Package: pkg}
	iface.Functions.Set("safe-divide", freeFn("safe-divide", wit.U32{}))

	w := &wit.World{Name: "dup"}
	w.Exports.Set("safe-divide", freeFn("safe-divide", wit.U32{}))
	w.Exports.Set("test:dep/ops", iface)

	_, err := NewTable(w, abi.NewCalculator())
	wantKind(t, err, errors.KindInvalidWorld)
}

func TestNewTable_ResourceFunctionRejected(t *testing.T) {
	w := &wit.World{Name: "res"}
	w.Imports.Set("grab", &wit.Function{Name: "grab", Kind: wit.Method{}})

	_, err := NewTable(w, abi.NewCalculator())
	wantKind(t, err, errors.KindUnsupported)
}

func TestNewTable_NilWorld(t *testing.T) {
	_, err := NewTable(nil, abi.NewCalculator())
	wantKind(t, err, errors.KindInvalidWorld)
}

func TestTable_ExportLookup(t *testing.T) {
	table := mustTable(t, testWorld())

	exp, ok := table.Export("safe-divide")
	if !ok || exp.ScriptName != "safeDivide" {
		t.Fatalf("Export(safe-divide) = %+v, %v", exp, ok)
	}
	if _, ok := table.Export("no-such"); ok {
		t.Errorf("unknown name resolved")
	}
}

func TestParamLayout(t *testing.T) {
	calc := abi.NewCalculator()

	offs, size, align := paramLayout(calc, []wit.Param{
		p("a", wit.U32{}), p("b", wit.U64{}), p("c", wit.U8{}),
	})
	if !reflect.DeepEqual(offs, []uint32{0, 8, 16}) || size != 24 || align != 8 {
		t.Errorf("layout = %v size %d align %d", offs, size, align)
	}

	offs, size, align = paramLayout(calc, []wit.Param{
		p("a", wit.U8{}), p("b", wit.String{}),
	})
	if !reflect.DeepEqual(offs, []uint32{0, 4}) || size != 12 || align != 4 {
		t.Errorf("layout = %v size %d align %d", offs, size, align)
	}
}
