// Package snapshot builds and restores pre-initialized interpreter
// images. Build drives a fresh engine through bridge registration with
// no-op import stubs, one top-level evaluation, and export validation,
// then captures the script's global state. The same sequence runs twice
// and the two captures must match byte for byte; identical inputs
// therefore yield byte-identical images. Restore rebuilds a runnable
// driver from an image without touching the baseline.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/engine"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/world"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
)

// BuildInput carries everything a snapshot build consumes.
type BuildInput struct {
	World      *wit.World
	Script     []byte
	ScriptName string

	// StubImports bakes trap-on-call import stand-ins into the image:
	// every restore of it refuses host imports, resolver or not.
	StubImports bool

	Logger           *zap.Logger
	MemoryLimitPages uint32
}

// Build produces a sealed image from a world and a script. Any failure
// aborts with the originating error; no partial image is ever produced.
func Build(ctx context.Context, in BuildInput) (*Image, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}

	id, err := world.Identity(in.World)
	if err != nil {
		return nil, err
	}
	table, err := dispatch.NewTable(in.World, abi.NewCalculator())
	if err != nil {
		return nil, err
	}

	prg, err := goja.Compile(in.ScriptName, string(in.Script), false)
	if err != nil {
		return nil, errors.ScriptEvaluation(err.Error(), err)
	}

	first, err := evalOnce(ctx, in, table, prg)
	if err != nil {
		return nil, err
	}
	second, err := evalOnce(ctx, in, table, prg)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, errors.Nondeterminism(diffDetail(first, second))
	}

	exports := make([]string, 0, len(table.Exports))
	for i := range table.Exports {
		exports = append(exports, table.Exports[i].WireName())
	}

	img := &Image{
		Version:     ImageVersion,
		Engine:      engine.Build,
		World:       id,
		ScriptName:  in.ScriptName,
		Script:      append([]byte(nil), in.Script...),
		Exports:     exports,
		StubImports: in.StubImports,
		Globals:     first,
	}
	img.Seal()

	log.Info("snapshot built",
		zap.String("script", in.ScriptName),
		zap.Int("exports", len(exports)),
		zap.Int("globals_bytes", len(img.Globals)),
		zap.String("content_id", world.HexIdentity(img.ContentID)[:16]))
	return img, nil
}

// evalOnce runs one fresh driver through the snapshot sequence and
// returns the captured global state.
func evalOnce(ctx context.Context, in BuildInput, table *dispatch.Table, prg *goja.Program) ([]byte, error) {
	d, err := engine.New(ctx, engine.Options{Logger: in.Logger, MemoryLimitPages: in.MemoryLimitPages})
	if err != nil {
		return nil, err
	}
	defer d.Close(ctx)

	if err := d.RegisterBridges(table, dispatch.NoopImports()); err != nil {
		return nil, err
	}
	skip := globalNames(d.Runtime())
	if err := d.Evaluate(prg); err != nil {
		return nil, err
	}
	if err := d.ValidateExports(); err != nil {
		return nil, err
	}
	return CaptureGlobals(d.Runtime(), skip)
}

func globalNames(rt *goja.Runtime) map[string]bool {
	names := make(map[string]bool)
	for _, key := range rt.GlobalObject().Keys() {
		names[key] = true
	}
	return names
}

func diffDetail(a, b []byte) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return fmt.Sprintf("top-level evaluation diverges at byte %d of the captured state", i)
		}
	}
	return fmt.Sprintf("captured states differ in length: %d vs %d bytes", len(a), len(b))
}

// Options configures a restore.
type Options struct {
	// World must canonicalize to the image's world hash; the dispatch
	// table is rebuilt from it.
	World *wit.World

	// Resolver supplies host import implementations. Nil means every
	// import traps on first call, same as StubImports.
	Resolver    dispatch.Resolver
	StubImports bool

	Logger           *zap.Logger
	MemoryLimitPages uint32
}

// programs caches compiled scripts across restores, keyed by image
// content id. goja programs are immutable and shareable across runtimes.
var programs sync.Map

func compileCached(img *Image) (*goja.Program, error) {
	if cached, ok := programs.Load(img.ContentID); ok {
		return cached.(*goja.Program), nil
	}
	prg, err := goja.Compile(img.ScriptName, string(img.Script), false)
	if err != nil {
		return nil, errors.ScriptEvaluation(err.Error(), err)
	}
	actual, _ := programs.LoadOrStore(img.ContentID, prg)
	return actual.(*goja.Program), nil
}

// Restore rebuilds a runnable driver from an image: verify, compile
// through the program cache, evaluate, re-validate exports, overlay the
// captured globals. The image baseline is never mutated; every restore
// produces a fresh mutable interpreter state.
func Restore(ctx context.Context, img *Image, opts Options) (*engine.Driver, error) {
	if img == nil {
		return nil, errors.InvalidImage("no image")
	}
	if sum := sha256.Sum256(img.body()); sum != img.ContentID {
		return nil, errors.InvalidImage("content id mismatch: image was modified after sealing")
	}
	if img.Engine != engine.Build {
		return nil, errors.InvalidImage("image built by engine %q, this engine is %q", img.Engine, engine.Build)
	}

	id, err := world.Identity(opts.World)
	if err != nil {
		return nil, err
	}
	if id != img.World {
		return nil, errors.InvalidImage("image world %s does not match the supplied world %s",
			world.HexIdentity(img.World)[:16], world.HexIdentity(id)[:16])
	}

	table, err := dispatch.NewTable(opts.World, abi.NewCalculator())
	if err != nil {
		return nil, err
	}
	if err := checkExports(table, img.Exports); err != nil {
		return nil, err
	}

	prg, err := compileCached(img)
	if err != nil {
		return nil, err
	}

	d, err := engine.New(ctx, engine.Options{
		Logger:           opts.Logger,
		StubImports:      img.StubImports || opts.StubImports || opts.Resolver == nil,
		MemoryLimitPages: opts.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			d.Close(ctx)
		}
	}()

	if err := d.RegisterBridges(table, opts.Resolver); err != nil {
		return nil, err
	}
	if err := d.Evaluate(prg); err != nil {
		return nil, err
	}
	if err := d.ValidateExports(); err != nil {
		return nil, err
	}
	if err := RestoreGlobals(d.Runtime(), img.Globals); err != nil {
		return nil, err
	}

	ok = true
	return d, nil
}

// checkExports cross-checks the world-derived export table against the
// image's recorded one.
func checkExports(table *dispatch.Table, recorded []string) error {
	if len(table.Exports) != len(recorded) {
		return errors.InvalidImage("image records %d exports, world declares %d", len(recorded), len(table.Exports))
	}
	for i := range table.Exports {
		if table.Exports[i].WireName() != recorded[i] {
			return errors.InvalidImage("export %d is %q in the image, %q in the world", i, recorded[i], table.Exports[i].WireName())
		}
	}
	return nil
}
