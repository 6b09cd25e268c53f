package dispatch

import (
	stderrors "errors"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/bridge"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// ValidateExports checks, after script evaluation, that every declared
// export resolves to a callable in the global scope. Returns the
// callables keyed by wire name; per-call dispatch uses this table and
// never searches by name again.
func (t *Table) ValidateExports(rt *goja.Runtime) (map[string]goja.Callable, error) {
	fns := make(map[string]goja.Callable, len(t.Exports))
	for i := range t.Exports {
		e := &t.Exports[i]
		fn, ok := goja.AssertFunction(rt.Get(e.ScriptName))
		if !ok {
			return nil, errors.MissingExport(e.WireName(), e.ScriptName)
		}
		fns[e.WireName()] = fn
	}
	return fns, nil
}

// CallExport runs one validated export at the flat ABI level: lift the
// raw parameters into script values, invoke the script function, lower
// the return value into flat results or a fresh retptr region.
//
// Failures follow the trap-vs-err policy: a throw (or a marshaling
// failure inside the call) becomes the declared err case when its
// payload lowers as the declared error type, and traps otherwise. An
// internal error thrown by an import bridge always traps, unchanged.
func (t *Table) CallExport(b Binding, exp *Export, fn goja.Callable, params []uint64) ([]uint64, error) {
	lift := bridge.NewLifter(b.Runtime, b.Memory, t.calc)
	lower := bridge.NewLowerer(b.Memory, b.Alloc, t.calc)

	args, err := t.liftParams(lift, exp, params)
	if err != nil {
		if out, ok := t.classify(b, lower, exp, b.Runtime.ToValue(err.Error())); ok {
			return out, nil
		}
		return nil, err
	}

	ret, err := fn(goja.Undefined(), args...)
	if err != nil {
		return t.classifyThrow(b, lower, exp, err)
	}

	out, err := t.lowerResult(b, lower, exp, ret)
	if err != nil {
		if flat, ok := t.classify(b, lower, exp, b.Runtime.ToValue(err.Error())); ok {
			return flat, nil
		}
		return nil, err
	}
	return out, nil
}

func (t *Table) liftParams(lift *bridge.Lifter, exp *Export, params []uint64) ([]goja.Value, error) {
	sigParams := exp.Sig.Params
	args := make([]goja.Value, 0, len(sigParams))

	if exp.FlatSig.ParamsIndirect {
		if len(params) < 1 {
			return nil, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
				Detail("indirect call carries no parameter pointer").
				Build()
		}
		offs, _, _ := paramLayout(t.calc, sigParams)
		base := uint32(params[0])
		for i, p := range sigParams {
			v, err := lift.LiftRead(p.Type, base+offs[i])
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return args, nil
	}

	rest := params
	for _, p := range sigParams {
		v, n, err := lift.LiftFlat(p.Type, rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		args = append(args, v)
	}
	return args, nil
}

func (t *Table) lowerResult(b Binding, lower *bridge.Lowerer, exp *Export, v goja.Value) ([]uint64, error) {
	if exp.Sig.Result == nil {
		return nil, nil
	}
	if exp.FlatSig.RetPtr {
		info := t.calc.Calculate(exp.Sig.Result)
		addr, err := b.Alloc.Alloc(info.Size, info.Align)
		if err != nil {
			return nil, err
		}
		if addr == 0 {
			return nil, errors.AllocationFailed(errors.PhaseLower, info.Size, info.Align)
		}
		if err := lower.LowerWrite(exp.Sig.Result, v, addr); err != nil {
			return nil, err
		}
		return []uint64{uint64(addr)}, nil
	}
	flat := make([]uint64, 0, len(exp.FlatSig.Results))
	if err := lower.LowerFlat(exp.Sig.Result, v, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// LowerParams prepares the flat parameters for an export call driven from
// the host side: each value lowers per the signature's convention, spilling
// into one allocated block when the flat form exceeds MaxFlatParams.
func (t *Table) LowerParams(b Binding, exp *Export, args []goja.Value) ([]uint64, error) {
	sigParams := exp.Sig.Params
	if len(args) != len(sigParams) {
		return nil, errors.New(errors.PhaseLower, errors.KindTypeMismatch).
			Detail("call carries %d arguments, signature declares %d", len(args), len(sigParams)).
			Build()
	}
	lower := bridge.NewLowerer(b.Memory, b.Alloc, t.calc)

	if exp.FlatSig.ParamsIndirect {
		offs, size, align := paramLayout(t.calc, sigParams)
		base, err := b.Alloc.Alloc(size, align)
		if err != nil {
			return nil, err
		}
		if base == 0 {
			return nil, errors.AllocationFailed(errors.PhaseLower, size, align)
		}
		for i, p := range sigParams {
			if err := lower.LowerWrite(p.Type, args[i], base+offs[i]); err != nil {
				return nil, err
			}
		}
		return []uint64{uint64(base)}, nil
	}

	flat := make([]uint64, 0, len(exp.FlatSig.Params))
	for i, p := range sigParams {
		if err := lower.LowerFlat(p.Type, args[i], &flat); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// LiftResult reads an export call's raw output back into a script value.
// The values referenced by a retptr region stay valid only until the arena
// watermark is reset, so callers lift before releasing.
func (t *Table) LiftResult(b Binding, exp *Export, out []uint64) (goja.Value, error) {
	if exp.Sig.Result == nil {
		return goja.Undefined(), nil
	}
	lift := bridge.NewLifter(b.Runtime, b.Memory, t.calc)
	if exp.FlatSig.RetPtr {
		if len(out) < 1 {
			return nil, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
				Detail("call returned no result pointer").
				Build()
		}
		return lift.LiftRead(exp.Sig.Result, uint32(out[0]))
	}
	v, _, err := lift.LiftFlat(exp.Sig.Result, out)
	return v, err
}

// classifyThrow maps a failed script invocation to the declared err case
// or a trap.
func (t *Table) classifyThrow(b Binding, lower *bridge.Lowerer, exp *Export, callErr error) ([]uint64, error) {
	var exc *goja.Exception
	if !stderrors.As(callErr, &exc) {
		// Interrupts and other engine-level failures pass through.
		return nil, callErr
	}
	thrown := exc.Value()

	// An error raised by an import bridge mid-call keeps its identity
	// instead of folding into the err case.
	if thrown != nil {
		if e, ok := thrown.Export().(*errors.Error); ok {
			return nil, e
		}
	}

	payload := thrown
	if r, ok := resultShape(exp.Sig.Result); ok && isStringType(r.Err) && thrown != nil {
		if obj, ok := thrown.(*goja.Object); ok && obj.ClassName() == "Error" {
			if msg := obj.Get("message"); msg != nil {
				payload = msg
			}
		}
	}

	if out, ok := t.classify(b, lower, exp, payload); ok {
		return out, nil
	}
	return nil, errors.ScriptEvaluation("uncaught exception in "+exp.WireName(), exc)
}

// classify attempts to fold a failure payload into the declared err
// case. Classification succeeds iff the declared result carries an error
// payload type and lowering the err case with this payload succeeds; the
// lowered output doubles as the call result.
func (t *Table) classify(b Binding, lower *bridge.Lowerer, exp *Export, payload goja.Value) ([]uint64, bool) {
	r, ok := resultShape(exp.Sig.Result)
	if !ok || r.Err == nil {
		return nil, false
	}

	cand := b.Runtime.NewObject()
	if err := cand.Set("tag", "err"); err != nil {
		return nil, false
	}
	if err := cand.Set("val", payload); err != nil {
		return nil, false
	}

	out, err := t.lowerResult(b, lower, exp, cand)
	if err != nil {
		return nil, false
	}
	return out, true
}

// resultShape unwraps type aliases down to a result type.
func resultShape(t wit.Type) (*wit.Result, bool) {
	for t != nil {
		td, ok := t.(*wit.TypeDef)
		if !ok {
			return nil, false
		}
		switch k := td.Kind.(type) {
		case *wit.Result:
			return k, true
		case wit.Type:
			t = k
		default:
			return nil, false
		}
	}
	return nil, false
}

// isStringType reports whether the type is string after alias unwrapping.
func isStringType(t wit.Type) bool {
	for t != nil {
		switch k := t.(type) {
		case wit.String:
			return true
		case *wit.TypeDef:
			inner, ok := k.Kind.(wit.Type)
			if !ok {
				return false
			}
			t = inner
		default:
			return false
		}
	}
	return false
}
