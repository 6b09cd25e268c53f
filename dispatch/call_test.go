package dispatch

import (
	"context"
	"testing"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

func exportWorld() *wit.World {
	resUS := &wit.TypeDef{Kind: &wit.Result{OK: wit.U32{}, Err: wit.String{}}}
	resUU := &wit.TypeDef{Kind: &wit.Result{OK: wit.U32{}, Err: wit.U32{}}}
	list := &wit.TypeDef{Kind: &wit.List{Type: wit.U32{}}}
	pair := &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U32{}, wit.U32{}}}}

	w := &wit.World{Name: "exports"}
	w.Exports.Set("safe-divide", freeFn("safe-divide", resUS, p("a", wit.U32{}), p("b", wit.U32{})))
	w.Exports.Set("strict-op", freeFn("strict-op", resUU, p("a", wit.U32{})))
	w.Exports.Set("risky", freeFn("risky", resUS))
	w.Exports.Set("shout", freeFn("shout", wit.String{}, p("s", wit.String{})))
	w.Exports.Set("sum", freeFn("sum", wit.U32{}, p("xs", list)))
	w.Exports.Set("tick", freeFn("tick", nil))
	w.Exports.Set("crash", freeFn("crash", nil))
	w.Exports.Set("bad-typed", freeFn("bad-typed", resUS))
	w.Exports.Set("wide", freeFn("wide", wit.U32{}, manyParams(17)...))
	w.Exports.Set("pair-up", freeFn("pair-up", pair))
	return w
}

const exportScript = `
function safeDivide(a, b) {
	if (b === 0) throw "division by zero";
	return { tag: "ok", val: Math.floor(a / b) };
}
function strictOp(a) { throw "not a number"; }
function risky() { throw new Error("boom"); }
function shout(s) { return s.toUpperCase() + "!"; }
function sum(xs) {
	var total = 0;
	for (var i = 0; i < xs.length; i++) total += xs[i];
	return total;
}
function tick() {}
function crash() { throw "kaboom"; }
function badTyped() { return { tag: "ok", val: "abc" }; }
function wide() {
	var total = 0;
	for (var i = 0; i < arguments.length; i++) total += arguments[i];
	return total;
}
function pairUp() { return [3, 4]; }
`

type callEnv struct {
	table *Table
	b     Binding
	fns   map[string]goja.Callable
	mem   *mockMemory
}

func newCallEnv(t *testing.T) *callEnv {
	t.Helper()
	table := mustTable(t, exportWorld())
	rt := goja.New()
	mem := newMockMemory(1 << 16)
	b := Binding{
		Runtime:  rt,
		Memory:   mem,
		Alloc:    newMockAllocator(mem),
		Resolver: NoopImports(),
	}
	if err := table.Bind(b); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := rt.RunString(exportScript); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	fns, err := table.ValidateExports(rt)
	if err != nil {
		t.Fatalf("ValidateExports: %v", err)
	}
	return &callEnv{table: table, b: b, fns: fns, mem: mem}
}

func (e *callEnv) call(t *testing.T, name string, params ...uint64) ([]uint64, error) {
	t.Helper()
	exp, ok := e.table.Export(name)
	if !ok {
		t.Fatalf("export %q not declared", name)
	}
	return e.table.CallExport(e.b, exp, e.fns[name], params)
}

// resultString decodes a result<_, string>-shaped region: discriminant
// byte, then the payload string pair at the aligned offset.
func (e *callEnv) resultString(t *testing.T, addr uint32) (uint8, string) {
	t.Helper()
	disc, _ := e.mem.ReadU8(addr)
	ptr, _ := e.mem.ReadU32(addr + 4)
	length, _ := e.mem.ReadU32(addr + 8)
	b, err := e.mem.Read(ptr, length)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return disc, string(b)
}

func (e *callEnv) stringAt(t *testing.T, addr uint32) string {
	t.Helper()
	ptr, _ := e.mem.ReadU32(addr)
	length, _ := e.mem.ReadU32(addr + 4)
	b, err := e.mem.Read(ptr, length)
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	return string(b)
}

func TestValidateExports(t *testing.T) {
	env := newCallEnv(t)
	for _, name := range []string{
		"safe-divide", "strict-op", "risky", "shout", "sum",
		"tick", "crash", "bad-typed", "wide", "pair-up",
	} {
		if env.fns[name] == nil {
			t.Errorf("no callable for %q", name)
		}
	}
}

func TestValidateExports_Missing(t *testing.T) {
	w := &wit.World{Name: "m"}
	w.Exports.Set("safe-divide", freeFn("safe-divide", wit.U32{}))
	table := mustTable(t, w)

	rt := goja.New()
	_, err := table.ValidateExports(rt)
	wantKind(t, err, errors.KindMissingExport)

	// A global of the right name that is not callable stays missing.
	script(t, rt, `var safeDivide = 3;`)
	_, err = table.ValidateExports(rt)
	wantKind(t, err, errors.KindMissingExport)
}

func TestCallExport_FlatParams(t *testing.T) {
	env := newCallEnv(t)

	for i, v := range []uint32{1, 2, 3} {
		_ = env.mem.WriteU32(2048+uint32(4*i), v)
	}
	out, err := env.call(t, "sum", 2048, 3)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if len(out) != 1 || out[0] != 6 {
		t.Errorf("sum = %v, want [6]", out)
	}
}

func TestCallExport_StringRoundTrip(t *testing.T) {
	env := newCallEnv(t)

	_ = env.mem.Write(2048, []byte("abc"))
	out, err := env.call(t, "shout", 2048, 3)
	if err != nil {
		t.Fatalf("shout: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("out = %v, want a retptr", out)
	}
	if got := env.stringAt(t, uint32(out[0])); got != "ABC!" {
		t.Errorf("shout = %q, want %q", got, "ABC!")
	}
}

func TestCallExport_OkCase(t *testing.T) {
	env := newCallEnv(t)

	out, err := env.call(t, "safe-divide", 10, 2)
	if err != nil {
		t.Fatalf("safe-divide: %v", err)
	}
	addr := uint32(out[0])
	disc, _ := env.mem.ReadU8(addr)
	val, _ := env.mem.ReadU32(addr + 4)
	if disc != 0 || val != 5 {
		t.Errorf("result = case %d val %d, want ok 5", disc, val)
	}
}

func TestCallExport_ThrownStringBecomesErr(t *testing.T) {
	env := newCallEnv(t)

	out, err := env.call(t, "safe-divide", 1, 0)
	if err != nil {
		t.Fatalf("safe-divide: %v", err)
	}
	disc, msg := env.resultString(t, uint32(out[0]))
	if disc != 1 || msg != "division by zero" {
		t.Errorf("result = case %d %q", disc, msg)
	}
}

func TestCallExport_ErrorInstanceContributesMessage(t *testing.T) {
	env := newCallEnv(t)

	out, err := env.call(t, "risky")
	if err != nil {
		t.Fatalf("risky: %v", err)
	}
	disc, msg := env.resultString(t, uint32(out[0]))
	if disc != 1 || msg != "boom" {
		t.Errorf("result = case %d %q, want err boom", disc, msg)
	}
}

func TestCallExport_NonMatchingThrowTraps(t *testing.T) {
	env := newCallEnv(t)

	// strict-op declares result<u32, u32>; a thrown string does not
	// lower as u32.
	_, err := env.call(t, "strict-op", 1)
	wantKind(t, err, errors.KindScriptEvaluation)
}

func TestCallExport_ThrowWithoutResultTraps(t *testing.T) {
	env := newCallEnv(t)

	_, err := env.call(t, "crash")
	wantKind(t, err, errors.KindScriptEvaluation)
}

func TestCallExport_Void(t *testing.T) {
	env := newCallEnv(t)

	out, err := env.call(t, "tick")
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("out = %v, want none", out)
	}
}

func TestCallExport_IndirectParams(t *testing.T) {
	env := newCallEnv(t)

	for i := uint32(0); i < 17; i++ {
		_ = env.mem.WriteU32(4096+4*i, i+1)
	}
	out, err := env.call(t, "wide", 4096)
	if err != nil {
		t.Fatalf("wide: %v", err)
	}
	if len(out) != 1 || out[0] != 153 {
		t.Errorf("wide = %v, want [153]", out)
	}
}

func TestCallExport_TupleRetPtr(t *testing.T) {
	env := newCallEnv(t)

	out, err := env.call(t, "pair-up")
	if err != nil {
		t.Fatalf("pair-up: %v", err)
	}
	addr := uint32(out[0])
	a, _ := env.mem.ReadU32(addr)
	b, _ := env.mem.ReadU32(addr + 4)
	if a != 3 || b != 4 {
		t.Errorf("pair = (%d, %d), want (3, 4)", a, b)
	}
}

func TestCallExport_BadReturnClassified(t *testing.T) {
	env := newCallEnv(t)

	// The script returns ok("abc") for result<u32, string>; the failed
	// lowering folds into the err case with its message as payload.
	out, err := env.call(t, "bad-typed")
	if err != nil {
		t.Fatalf("bad-typed: %v", err)
	}
	disc, msg := env.resultString(t, uint32(out[0]))
	if disc != 1 || msg == "" {
		t.Errorf("result = case %d %q, want err with a message", disc, msg)
	}
}

func TestCallExport_LiftFailureClassified(t *testing.T) {
	env := newCallEnv(t)

	// Only one of two declared params: the lift failure is classified
	// against the declared err type.
	out, err := env.call(t, "safe-divide", 5)
	if err != nil {
		t.Fatalf("safe-divide: %v", err)
	}
	disc, msg := env.resultString(t, uint32(out[0]))
	if disc != 1 || msg == "" {
		t.Errorf("result = case %d %q, want err with a message", disc, msg)
	}
}

func TestCallExport_ImportErrorKeepsIdentity(t *testing.T) {
	w := &wit.World{Name: "chain"}
	w.Imports.Set("fail-op", freeFn("fail-op", wit.U32{}))
	resUS := &wit.TypeDef{Kind: &wit.Result{OK: wit.U32{}, Err: wit.String{}}}
	w.Exports.Set("chain", freeFn("chain", resUS))

	table := mustTable(t, w)
	rt := goja.New()
	mem := newMockMemory(1 << 16)
	sentinel := errors.Unsupported(errors.PhaseRuntime, "backend offline")
	b := Binding{
		Runtime: rt,
		Memory:  mem,
		Alloc:   newMockAllocator(mem),
		Resolver: hostResolver(map[string]HostFunc{
			"fail-op": func(ctx context.Context, flat []uint64) ([]uint64, error) {
				return nil, sentinel
			},
		}),
	}
	if err := table.Bind(b); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := rt.RunString(`function chain() { return { tag: "ok", val: failOp() }; }`); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	fns, err := table.ValidateExports(rt)
	if err != nil {
		t.Fatalf("ValidateExports: %v", err)
	}

	// Even though the declared err type is string, an internal failure
	// must not fold into the err case.
	exp, _ := table.Export("chain")
	_, err = table.CallExport(b, exp, fns["chain"], nil)
	if err != sentinel {
		t.Errorf("error = %v, want the original import failure", err)
	}
}
