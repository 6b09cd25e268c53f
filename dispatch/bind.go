package dispatch

import (
	"context"
	"strconv"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/bridge"
	"github.com/wippyai/componentize/errors"
)

// HostFunc executes one resolved host import at the core ABI level: flat
// params in, flat results out. The params already follow the signature's
// convention (spilled to memory and passed as a pointer when indirect).
type HostFunc func(ctx context.Context, flat []uint64) ([]uint64, error)

// Resolver maps an import entry to its host implementation.
type Resolver interface {
	Resolve(imp *Import) (HostFunc, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(imp *Import) (HostFunc, bool)

func (f ResolverFunc) Resolve(imp *Import) (HostFunc, bool) { return f(imp) }

// TrapImports resolves every import to a stand-in that fails when called.
// Selected when imports are deliberately stubbed out of a build; the
// failure happens before any host trampoline is reached.
func TrapImports() Resolver {
	return ResolverFunc(func(imp *Import) (HostFunc, bool) {
		name := imp.WireName()
		return func(ctx context.Context, flat []uint64) ([]uint64, error) {
			return nil, errors.Unsupported(errors.PhaseRuntime, "stubbed import "+name)
		}, true
	})
}

// NoopImports resolves every import to a stub returning zero flat values,
// which lift to the zero value of the declared result type (none lifts to
// undefined). The snapshot phase uses it so top-level script code that
// touches an import never reaches a live trampoline.
func NoopImports() Resolver {
	return ResolverFunc(func(imp *Import) (HostFunc, bool) {
		n := len(imp.FlatSig.Results)
		return func(ctx context.Context, flat []uint64) ([]uint64, error) {
			return make([]uint64, n), nil
		}, true
	})
}

// Binding carries the runtime surfaces the bridges operate on. Context,
// when set, supplies the context passed to host funcs; nil means
// context.Background.
type Binding struct {
	Runtime  *goja.Runtime
	Memory   bridge.Memory
	Alloc    bridge.Allocator
	Resolver Resolver
	Context  func() context.Context
}

func (b Binding) ctx() context.Context {
	if b.Context != nil {
		return b.Context()
	}
	return context.Background()
}

// Bind installs every import bridge and constant object into the script
// global scope. Interface imports bind under their fully qualified name
// (and unversioned alias when versioned); bare imports bind under their
// script name directly. Every import must resolve or binding fails.
func (t *Table) Bind(b Binding) error {
	if b.Runtime == nil || b.Resolver == nil {
		return errors.New(errors.PhaseDispatch, errors.KindUnsupported).
			Detail("binding requires a runtime and a resolver").
			Build()
	}

	lift := bridge.NewLifter(b.Runtime, b.Memory, t.calc)
	lower := bridge.NewLowerer(b.Memory, b.Alloc, t.calc)

	objs := make(map[string]*goja.Object, len(t.Interfaces))
	ifaceObj := func(name string) *goja.Object {
		if o, ok := objs[name]; ok {
			return o
		}
		o := b.Runtime.NewObject()
		objs[name] = o
		return o
	}

	for i := range t.Imports {
		imp := &t.Imports[i]
		host, ok := b.Resolver.Resolve(imp)
		if !ok {
			return errors.NotFound(errors.PhaseDispatch, "import", imp.WireName())
		}
		fn := t.importBridge(b, lift, lower, imp, host)
		if imp.Interface == "" {
			if err := b.Runtime.Set(imp.ScriptName, fn); err != nil {
				return err
			}
			continue
		}
		if err := ifaceObj(imp.Interface).Set(imp.ScriptName, fn); err != nil {
			return err
		}
	}

	for _, meta := range t.Interfaces {
		obj := ifaceObj(meta.Name)
		if err := bindConstants(b.Runtime, obj, meta); err != nil {
			return err
		}
		if err := b.Runtime.Set(meta.Name, obj); err != nil {
			return err
		}
		if meta.Alias != "" {
			if err := b.Runtime.Set(meta.Alias, obj); err != nil {
				return err
			}
		}
	}
	return nil
}

// bindConstants attaches the constant companions of one interface: enum
// objects mapping case name to ordinal and ordinal back to the declared
// case name, and flags objects mapping each label to its bit.
func bindConstants(rt *goja.Runtime, obj *goja.Object, meta Interface) error {
	for _, e := range meta.Enums {
		c := rt.NewObject()
		for i, name := range e.Cases {
			if err := c.Set(bridge.ConstName(name), i); err != nil {
				return err
			}
			if err := c.Set(strconv.Itoa(i), name); err != nil {
				return err
			}
		}
		if err := obj.Set(bridge.ConstName(e.Name), c); err != nil {
			return err
		}
	}
	for _, f := range meta.Flags {
		c := rt.NewObject()
		for i, label := range f.Labels {
			if err := c.Set(bridge.ConstName(label), 1<<uint(i)); err != nil {
				return err
			}
		}
		if err := obj.Set(bridge.ConstName(f.Name), c); err != nil {
			return err
		}
	}
	return nil
}

// importBridge builds the native function exposed to script for one
// import. Marshaling or host failures surface as a thrown wrapper whose
// exported value is the original error.
func (t *Table) importBridge(b Binding, lift *bridge.Lifter, lower *bridge.Lowerer, imp *Import, host HostFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		v, err := t.callImport(b, lift, lower, imp, host, call.Arguments)
		if err != nil {
			panic(b.Runtime.ToValue(err))
		}
		return v
	}
}

func (t *Table) callImport(b Binding, lift *bridge.Lifter, lower *bridge.Lowerer, imp *Import, host HostFunc, args []goja.Value) (goja.Value, error) {
	params := imp.Sig.Params
	flat := make([]uint64, 0, len(imp.FlatSig.Params))

	if imp.FlatSig.ParamsIndirect {
		offs, size, align := paramLayout(t.calc, params)
		base, err := b.Alloc.Alloc(size, align)
		if err != nil {
			return nil, err
		}
		if base == 0 {
			return nil, errors.AllocationFailed(errors.PhaseLower, size, align)
		}
		for i, p := range params {
			if err := lower.LowerWrite(p.Type, argAt(args, i), base+offs[i]); err != nil {
				return nil, err
			}
		}
		flat = append(flat, uint64(base))
	} else {
		for i, p := range params {
			if err := lower.LowerFlat(p.Type, argAt(args, i), &flat); err != nil {
				return nil, err
			}
		}
	}

	var retAddr uint32
	if imp.FlatSig.RetPtr {
		info := t.calc.Calculate(imp.Sig.Result)
		addr, err := b.Alloc.Alloc(info.Size, info.Align)
		if err != nil {
			return nil, err
		}
		if addr == 0 {
			return nil, errors.AllocationFailed(errors.PhaseLift, info.Size, info.Align)
		}
		retAddr = addr
		flat = append(flat, uint64(retAddr))
	}

	out, err := host(b.ctx(), flat)
	if err != nil {
		return nil, err
	}

	if imp.Sig.Result == nil {
		return goja.Undefined(), nil
	}
	if imp.FlatSig.RetPtr {
		return lift.LiftRead(imp.Sig.Result, retAddr)
	}
	v, _, err := lift.LiftFlat(imp.Sig.Result, out)
	return v, err
}

func argAt(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}
