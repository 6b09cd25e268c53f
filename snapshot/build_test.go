package snapshot

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/engine"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/world"
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

// snapWorld imports one host function and exports enough surface to
// observe captured state, live imports, and per-restore mutability.
func snapWorld() *wit.World {
	pkg := &wit.Package{Name: wit.Ident{
		Namespace: "test",
		Package:   "host",
		Version:   semver.New("1.0.0"),
	}}
	util := &wit.Interface{Name: strptr("util"), Package: pkg}
	util.Functions.Set("base", freeFn("base", wit.U32{}))

	w := &wit.World{Name: "snap"}
	w.Imports.Set("test:host/util@1.0.0", util)
	w.Exports.Set("add", freeFn("add", wit.U32{}, p("a", wit.U32{}), p("b", wit.U32{})))
	w.Exports.Set("greet", freeFn("greet", wit.String{}, p("name", wit.String{})))
	w.Exports.Set("count-up", freeFn("count-up", wit.U32{}))
	w.Exports.Set("get-limit", freeFn("get-limit", wit.U32{}))
	w.Exports.Set("base-at-load", freeFn("base-at-load", wit.U32{}))
	w.Exports.Set("base-now", freeFn("base-now", wit.U32{}))
	return w
}

const snapScript = `
var util = globalThis["test:host/util"];
var limit = 10;
var tag = {name: "snap", sizes: [1, 2, 3]};
var loadBase = util.base();
var hits = 0;

function add(a, b) { return (a + b) >>> 0; }
function greet(name) { return "hello, " + name; }
function countUp() { hits += 1; return hits; }
function getLimit() { return limit; }
function baseAtLoad() { return loadBase; }
function baseNow() { return util.base(); }
`

func baseResolver(value uint64) dispatch.Resolver {
	return dispatch.ResolverFunc(func(imp *dispatch.Import) (dispatch.HostFunc, bool) {
		if imp.Name != "base" {
			return nil, false
		}
		return func(ctx context.Context, flat []uint64) ([]uint64, error) {
			return []uint64{value}, nil
		}, true
	})
}

func mustBuild(t *testing.T, script string) *Image {
	t.Helper()
	img, err := Build(context.Background(), BuildInput{
		World:      snapWorld(),
		Script:     []byte(script),
		ScriptName: "snap.js",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return img
}

func mustRestore(t *testing.T, img *Image, opts Options) *engine.Driver {
	t.Helper()
	if opts.World == nil {
		opts.World = snapWorld()
	}
	d, err := Restore(context.Background(), img, opts)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	t.Cleanup(func() { d.Close(context.Background()) })
	return d
}

func invokeInt(t *testing.T, d *engine.Driver, name string, args ...any) int64 {
	t.Helper()
	out, err := d.Invoke(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Invoke(%s): %v", name, err)
	}
	n, ok := out.(int64)
	if !ok {
		t.Fatalf("Invoke(%s) = %T(%v), want int64", name, out, out)
	}
	return n
}

func TestBuild_Image(t *testing.T) {
	img := mustBuild(t, snapScript)

	if img.Version != ImageVersion {
		t.Errorf("Version = %d, want %d", img.Version, ImageVersion)
	}
	if img.Engine != engine.Build {
		t.Errorf("Engine = %q, want %q", img.Engine, engine.Build)
	}
	id, err := world.Identity(snapWorld())
	if err != nil {
		t.Fatal(err)
	}
	if img.World != id {
		t.Error("image world hash does not match the world identity")
	}
	wantExports := []string{"add", "greet", "count-up", "get-limit", "base-at-load", "base-now"}
	if len(img.Exports) != len(wantExports) {
		t.Fatalf("Exports = %v, want %v", img.Exports, wantExports)
	}
	for i, name := range wantExports {
		if img.Exports[i] != name {
			t.Errorf("Exports[%d] = %q, want %q", i, img.Exports[i], name)
		}
	}
	if string(img.Script) != snapScript {
		t.Error("image does not embed the script source verbatim")
	}
	if len(img.Globals) == 0 {
		t.Error("image captured no global state")
	}
	if img.ContentID == ([32]byte{}) {
		t.Error("image is not sealed")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a := mustBuild(t, snapScript)
	b := mustBuild(t, snapScript)
	if !bytes.Equal(a.Encode(), b.Encode()) {
		t.Error("identical inputs produced different images")
	}
}

func TestBuild_ParseError(t *testing.T) {
	_, err := Build(context.Background(), BuildInput{
		World:      snapWorld(),
		Script:     []byte("var (("),
		ScriptName: "broken.js",
	})
	wantKind(t, err, errors.KindScriptEvaluation)
}

func TestBuild_TopLevelThrow(t *testing.T) {
	_, err := Build(context.Background(), BuildInput{
		World:      snapWorld(),
		Script:     []byte(`throw new Error("boom at load");`),
		ScriptName: "boom.js",
	})
	wantKind(t, err, errors.KindScriptEvaluation)
	if !strings.Contains(err.Error(), "boom at load") {
		t.Errorf("error %q lost the thrown message", err)
	}
}

func TestBuild_MissingExport(t *testing.T) {
	_, err := Build(context.Background(), BuildInput{
		World:      snapWorld(),
		Script:     []byte(`function add(a, b) { return a + b; }`),
		ScriptName: "partial.js",
	})
	wantKind(t, err, errors.KindMissingExport)
}

func TestBuild_Nondeterminism(t *testing.T) {
	_, err := Build(context.Background(), BuildInput{
		World:      snapWorld(),
		Script:     []byte(`var token = String(Math.random());` + snapScript),
		ScriptName: "random.js",
	})
	wantKind(t, err, errors.KindNondeterminism)
}

func TestRestore_CapturedState(t *testing.T) {
	img := mustBuild(t, snapScript)
	d := mustRestore(t, img, Options{Resolver: baseResolver(7)})

	if got := invokeInt(t, d, "get-limit"); got != 10 {
		t.Errorf("get-limit = %d, want 10", got)
	}
	// Captured at build time with no-op import stubs, so zero even though
	// re-evaluation saw the live resolver.
	if got := invokeInt(t, d, "base-at-load"); got != 0 {
		t.Errorf("base-at-load = %d, want 0", got)
	}
	// Live imports answer with the restored resolver.
	if got := invokeInt(t, d, "base-now"); got != 7 {
		t.Errorf("base-now = %d, want 7", got)
	}
	out, err := d.Invoke(context.Background(), "greet", "ada")
	if err != nil || out != "hello, ada" {
		t.Errorf("greet = %v (%v), want hello, ada", out, err)
	}
}

func TestRestore_FreshStatePerRestore(t *testing.T) {
	img := mustBuild(t, snapScript)

	first := mustRestore(t, img, Options{Resolver: baseResolver(7)})
	for want := int64(1); want <= 3; want++ {
		if got := invokeInt(t, first, "count-up"); got != want {
			t.Fatalf("count-up = %d, want %d", got, want)
		}
	}

	second := mustRestore(t, img, Options{Resolver: baseResolver(7)})
	if got := invokeInt(t, second, "count-up"); got != 1 {
		t.Errorf("fresh restore starts at count-up = %d, want 1", got)
	}
}

func TestRestore_StubImports(t *testing.T) {
	img := mustBuild(t, snapScript)
	d := mustRestore(t, img, Options{StubImports: true})

	if got := invokeInt(t, d, "get-limit"); got != 10 {
		t.Errorf("get-limit = %d, want 10", got)
	}
	_, err := d.Invoke(context.Background(), "base-now")
	wantKind(t, err, errors.KindUnsupported)
}

func TestRestore_StubbedImage(t *testing.T) {
	img, err := Build(context.Background(), BuildInput{
		World:       snapWorld(),
		Script:      []byte(snapScript),
		ScriptName:  "snap.js",
		StubImports: true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !img.StubImports {
		t.Fatal("image does not record the stub flag")
	}

	// A resolver cannot override what the image was built with.
	d := mustRestore(t, img, Options{Resolver: baseResolver(7)})
	if got := invokeInt(t, d, "get-limit"); got != 10 {
		t.Errorf("get-limit = %d, want 10", got)
	}
	_, err = d.Invoke(context.Background(), "base-now")
	wantKind(t, err, errors.KindUnsupported)
}

func TestRestore_ContentIDMismatch(t *testing.T) {
	img := mustBuild(t, snapScript)
	img.Globals = append(img.Globals, 0xFF)

	_, err := Restore(context.Background(), img, Options{World: snapWorld()})
	wantKind(t, err, errors.KindInvalidImage)
}

func TestRestore_EngineMismatch(t *testing.T) {
	img := mustBuild(t, snapScript)
	img.Engine = "other-engine/9"
	img.Seal()

	_, err := Restore(context.Background(), img, Options{World: snapWorld()})
	wantKind(t, err, errors.KindInvalidImage)
}

func TestRestore_WorldMismatch(t *testing.T) {
	img := mustBuild(t, snapScript)

	other := snapWorld()
	other.Name = "different"
	_, err := Restore(context.Background(), img, Options{World: other})
	wantKind(t, err, errors.KindInvalidImage)
}

func TestRestore_DecodedImage(t *testing.T) {
	img := mustBuild(t, snapScript)
	decoded, err := DecodeImage(img.Encode())
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}

	d := mustRestore(t, decoded, Options{Resolver: baseResolver(3)})
	if got := invokeInt(t, d, "add", 2, 3); got != 5 {
		t.Errorf("add = %d, want 5", got)
	}
}
