package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/bridge"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/errors"
	"go.uber.org/zap"
)

// Build identifies the interpreter and arena revision a driver embeds.
// Snapshot images record it; restoring an image produced by a different
// build is refused because captured state is only portable within one.
const Build = "goja-20231027/arena-1"

// Options configures a Driver.
type Options struct {
	// Logger receives driver lifecycle events. Nil disables logging.
	Logger *zap.Logger

	// StubImports replaces every import bridge with a trap-on-call
	// stand-in regardless of the resolver passed to RegisterBridges.
	StubImports bool

	// MemoryLimitPages caps the arena memory in 64KB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32
}

// Driver owns exactly one script runtime paired with one arena instance.
// It is single-threaded by construction: a top-level call runs to
// completion before the next is accepted, and a host import invoked
// mid-call re-enters the same stack synchronously.
type Driver struct {
	opts Options
	log  *zap.Logger

	rt    *goja.Runtime
	wrt   wazero.Runtime
	arena api.Module
	mem   *arenaMemory
	alloc *arenaAllocator
	heap  api.MutableGlobal

	table   *dispatch.Table
	binding dispatch.Binding
	fns     map[string]goja.Callable

	callCtx    context.Context
	evaluated  bool
	inCall     bool
	pending    uint32
	hasPending bool
}

// New emits the arena module, compiles and instantiates it under wazero,
// and pairs it with a fresh script runtime.
func New(ctx context.Context, opts Options) (*Driver, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cfg := wazero.NewRuntimeConfig()
	if opts.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.MemoryLimitPages)
	}
	wrt := wazero.NewRuntimeWithConfig(ctx, cfg)

	compiled, err := wrt.CompileModule(ctx, ArenaModule())
	if err != nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("compile arena module: %w", err)
	}

	// Anonymous instance name keeps drivers instantiable in parallel
	// under one process.
	arena, err := wrt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("instantiate arena module: %w", err)
	}

	mem := arena.Memory()
	realloc := arena.ExportedFunction(CabiRealloc)
	heap, _ := arena.ExportedGlobal(HeapGlobal).(api.MutableGlobal)
	if mem == nil || realloc == nil || heap == nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("arena module is missing its exports")
	}

	d := &Driver{
		opts:  opts,
		log:   log,
		rt:    goja.New(),
		wrt:   wrt,
		arena: arena,
		mem:   &arenaMemory{mem: mem},
		alloc: &arenaAllocator{realloc: realloc, stack: make([]uint64, 4)},
		heap:  heap,
	}
	log.Debug("driver ready", zap.Uint32("heap_base", uint32(heap.Get())))
	return d, nil
}

// Close tears down the arena and its wazero runtime. The script runtime
// needs no teardown.
func (d *Driver) Close(ctx context.Context) error {
	if d.wrt == nil {
		return nil
	}
	err := d.wrt.Close(ctx)
	d.wrt = nil
	d.arena = nil
	d.fns = nil
	return err
}

// Runtime exposes the script runtime for state capture and inspection.
func (d *Driver) Runtime() *goja.Runtime {
	return d.rt
}

// Table returns the bound dispatch table, or nil before RegisterBridges.
func (d *Driver) Table() *dispatch.Table {
	return d.table
}

// Watermark reports the arena's current bump pointer.
func (d *Driver) Watermark() uint32 {
	return uint32(d.heap.Get())
}

// RegisterBridges installs every import bridge and constant from the table
// into the script global scope. Must run before Evaluate so the script's
// top level can reach its imports.
func (d *Driver) RegisterBridges(table *dispatch.Table, resolver dispatch.Resolver) error {
	if d.table != nil {
		return errors.New(errors.PhaseRuntime, errors.KindUnsupported).
			Detail("bridges already registered").
			Build()
	}
	if d.opts.StubImports {
		resolver = dispatch.TrapImports()
	}

	b := dispatch.Binding{
		Runtime:  d.rt,
		Memory:   d.mem,
		Alloc:    d.alloc,
		Resolver: resolver,
		Context: func() context.Context {
			if d.callCtx != nil {
				return d.callCtx
			}
			return context.Background()
		},
	}
	if err := table.Bind(b); err != nil {
		return err
	}

	d.table = table
	d.binding = b
	d.log.Debug("bridges registered",
		zap.Int("imports", len(table.Imports)),
		zap.Int("exports", len(table.Exports)))
	return nil
}

// Evaluate runs the compiled script exactly once. Top-level evaluation
// performs declarations and whatever side effects the script's top level
// triggers; exported functions run only through Call.
func (d *Driver) Evaluate(prg *goja.Program) error {
	if d.evaluated {
		return errors.New(errors.PhaseEval, errors.KindScriptEvaluation).
			Detail("script already evaluated").
			Build()
	}
	d.evaluated = true

	if _, err := d.rt.RunProgram(prg); err != nil {
		return evalError(err)
	}
	d.log.Debug("script evaluated")
	return nil
}

// ValidateExports checks that every declared export resolved to a callable
// after evaluation, and caches the callables for Call.
func (d *Driver) ValidateExports() error {
	if d.table == nil {
		return errors.New(errors.PhaseRuntime, errors.KindUnsupported).
			Detail("no bridges registered").
			Build()
	}
	fns, err := d.table.ValidateExports(d.rt)
	if err != nil {
		return err
	}
	d.fns = fns
	d.log.Debug("exports validated", zap.Int("count", len(fns)))
	return nil
}

// Call runs one validated export at the flat ABI level. The arena
// watermark recorded before the call is restored when the result is
// consumed: a retptr region must stay readable after Call returns, so the
// reset is deferred to Release, or to the next Call, whichever comes
// first. A failed call releases immediately.
func (d *Driver) Call(ctx context.Context, name string, params []uint64) ([]uint64, error) {
	if d.inCall {
		return nil, errors.Reentrant(name)
	}
	if d.fns == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Detail("exports not validated").
			Build()
	}
	exp, ok := d.table.Export(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	fn := d.fns[name]

	d.Release()
	mark := uint32(d.heap.Get())

	d.inCall = true
	d.callCtx = ctx
	d.alloc.setContext(ctx)
	defer func() {
		d.inCall = false
		d.callCtx = nil
		d.alloc.setContext(nil)
	}()

	out, err := d.table.CallExport(d.binding, exp, fn, params)
	if err != nil {
		d.heap.Set(uint64(mark))
		return nil, err
	}

	d.pending = mark
	d.hasPending = true
	return out, nil
}

// Release resets the arena to the watermark recorded before the last
// completed call, freeing its allocations in bulk.
func (d *Driver) Release() {
	if !d.hasPending {
		return
	}
	d.heap.Set(uint64(d.pending))
	d.hasPending = false
}

// Invoke drives one export from Go values end to end: arguments become
// script values, lower into flat params, run through Call, and the lifted
// result converts back to a Go value. The arena is released before Invoke
// returns.
func (d *Driver) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	if d.inCall {
		return nil, errors.Reentrant(name)
	}
	if d.table == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindUnsupported).
			Detail("no bridges registered").
			Build()
	}
	exp, ok := d.table.Export(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = d.rt.ToValue(a)
	}

	d.Release()
	mark := uint32(d.heap.Get())
	restore := func() {
		d.hasPending = false
		d.heap.Set(uint64(mark))
	}

	d.alloc.setContext(ctx)
	params, err := d.table.LowerParams(d.binding, exp, vals)
	d.alloc.setContext(nil)
	if err != nil {
		restore()
		return nil, err
	}

	out, err := d.Call(ctx, name, params)
	if err != nil {
		restore()
		return nil, err
	}

	v, err := d.table.LiftResult(d.binding, exp, out)
	restore()
	if err != nil {
		return nil, err
	}
	if exp.Sig.Result == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// evalError surfaces a top-level script failure with the interpreter's
// message kept verbatim.
func evalError(err error) error {
	var exc *goja.Exception
	if stderrors.As(err, &exc) && exc.Value() != nil {
		return errors.ScriptEvaluation(exc.Value().String(), err)
	}
	return errors.ScriptEvaluation(err.Error(), err)
}

// arenaMemory adapts the arena's linear memory to the bridge contract.
type arenaMemory struct {
	mem api.Memory
}

func (m *arenaMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *arenaMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *arenaMemory) ReadU8(offset uint32) (uint8, error) {
	data, err := m.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (m *arenaMemory) ReadU16(offset uint32) (uint16, error) {
	data, err := m.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

func (m *arenaMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d, length=4", offset)
	}
	return val, nil
}

func (m *arenaMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d, length=8", offset)
	}
	return val, nil
}

func (m *arenaMemory) WriteU8(offset uint32, value uint8) error {
	return m.Write(offset, []byte{value})
}

func (m *arenaMemory) WriteU16(offset uint32, value uint16) error {
	return m.Write(offset, []byte{byte(value), byte(value >> 8)})
}

func (m *arenaMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d, length=4", offset)
	}
	return nil
}

func (m *arenaMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d, length=8", offset)
	}
	return nil
}

func (m *arenaMemory) Size() uint32 {
	return m.mem.Size()
}

var _ bridge.Memory = (*arenaMemory)(nil)

// arenaAllocator bump-allocates through the arena's exported realloc. The
// driver is single-threaded, so one reused stack buffer is enough.
type arenaAllocator struct {
	realloc api.Function
	stack   []uint64
	ctx     context.Context
}

func (a *arenaAllocator) setContext(ctx context.Context) {
	a.ctx = ctx
}

func (a *arenaAllocator) Alloc(size, align uint32) (uint32, error) {
	if size > abi.MaxAlloc {
		return 0, errors.AllocationFailed(errors.PhaseRuntime, size, align)
	}
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	a.stack[0] = 0
	a.stack[1] = 0
	a.stack[2] = uint64(align)
	a.stack[3] = uint64(size)
	if err := a.realloc.CallWithStack(ctx, a.stack[:4]); err != nil {
		return 0, err
	}
	return uint32(a.stack[0]), nil
}

var _ bridge.Allocator = (*arenaAllocator)(nil)
