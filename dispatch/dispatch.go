package dispatch

import (
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/bridge"
	"github.com/wippyai/componentize/errors"
	"go.bytecodealliance.org/wit"
)

// Sig is the interface-level signature of one function: named parameters
// and an optional result type (nil when the function returns nothing).
type Sig struct {
	Params []wit.Param
	Result wit.Type
}

// Import describes one host function callable from script. Interface is
// the fully qualified interface name ("ns:pkg/iface@ver"), empty for
// bare world-level imports. Alias is the version-stripped form, empty
// when the interface carries no version.
type Import struct {
	Interface  string
	Alias      string
	Name       string
	ScriptName string
	Sig        Sig
	FlatSig    abi.Signature
}

// WireName returns the interface-qualified name used in diagnostics and
// artifact tables.
func (imp *Import) WireName() string {
	if imp.Interface == "" {
		return imp.Name
	}
	return imp.Interface + "#" + imp.Name
}

// Export describes one script function callable from the host side.
type Export struct {
	Interface  string
	Name       string
	ScriptName string
	Sig        Sig
	FlatSig    abi.Signature
}

// WireName returns the name the host addresses this export by: the plain
// function name, prefixed with its interface for interface exports.
func (e *Export) WireName() string {
	if e.Interface == "" {
		return e.Name
	}
	return e.Interface + "#" + e.Name
}

// EnumConst records the declared cases of an imported enum type, in
// declaration order.
type EnumConst struct {
	Name  string
	Cases []string
}

// FlagsConst records the declared labels of an imported flags type, in
// declaration order.
type FlagsConst struct {
	Name   string
	Labels []string
}

// Interface carries the binding metadata of one imported interface: its
// qualified name, optional unversioned alias, and the constant objects
// its type declarations contribute.
type Interface struct {
	Name  string
	Alias string
	Enums []EnumConst
	Flags []FlagsConst
}

// Table is the dispatch table for one world: every import bridge and
// export entry point, with flat signatures and layout decisions fixed at
// construction. Per-call dispatch never searches by name again.
type Table struct {
	Imports    []Import
	Exports    []Export
	Interfaces []Interface

	exportIdx map[string]int
	calc      *abi.Calculator
}

// NewTable walks the selected world and builds its dispatch table. The
// world graph is fully linked, so no further resolution happens here.
// Resource functions are rejected; only freestanding functions dispatch.
func NewTable(world *wit.World, calc *abi.Calculator) (*Table, error) {
	if world == nil {
		return nil, errors.InvalidWorld("no world selected")
	}

	t := &Table{
		exportIdx: make(map[string]int),
		calc:      calc,
	}

	for key, item := range world.Imports.All() {
		switch it := item.(type) {
		case *wit.Interface:
			if err := t.addImportInterface(key, it); err != nil {
				return nil, err
			}
		case *wit.Function:
			if err := t.addImportFunc(it); err != nil {
				return nil, err
			}
		case *wit.TypeDef:
			// type-only import, nothing to dispatch
		default:
			return nil, errors.InvalidWorld("world %s: unsupported import %q", world.Name, key)
		}
	}

	for key, item := range world.Exports.All() {
		switch it := item.(type) {
		case *wit.Interface:
			fq, _ := qualifiedName(it, key)
			for _, f := range it.Functions.All() {
				if err := t.addExport(fq, f); err != nil {
					return nil, err
				}
			}
		case *wit.Function:
			if err := t.addExport("", it); err != nil {
				return nil, err
			}
		case *wit.TypeDef:
			// exported type, nothing callable
		default:
			return nil, errors.InvalidWorld("world %s: unsupported export %q", world.Name, key)
		}
	}

	// Exports share one flat script scope, so both the wire names and the
	// converted script names must be collision-free.
	scriptSeen := make(map[string]string, len(t.Exports))
	for i := range t.Exports {
		e := &t.Exports[i]
		wire := e.WireName()
		if _, dup := t.exportIdx[wire]; dup {
			return nil, errors.InvalidWorld("duplicate export %q", wire)
		}
		t.exportIdx[wire] = i
		if prev, dup := scriptSeen[e.ScriptName]; dup {
			return nil, errors.InvalidWorld("exports %q and %q collide on script name %q", prev, wire, e.ScriptName)
		}
		scriptSeen[e.ScriptName] = wire
	}

	return t, nil
}

// Export returns the export entry addressed by wire name.
func (t *Table) Export(name string) (*Export, bool) {
	i, ok := t.exportIdx[name]
	if !ok {
		return nil, false
	}
	return &t.Exports[i], true
}

// Calculator returns the layout calculator the table was built with, so
// callers driving exports from the host side share its cache.
func (t *Table) Calculator() *abi.Calculator {
	return t.calc
}

func (t *Table) addImportInterface(key string, iface *wit.Interface) error {
	fq, alias := qualifiedName(iface, key)

	meta := Interface{Name: fq, Alias: alias}
	for name, td := range iface.TypeDefs.All() {
		switch kind := td.Kind.(type) {
		case *wit.Enum:
			cases := make([]string, len(kind.Cases))
			for i, c := range kind.Cases {
				cases[i] = c.Name
			}
			meta.Enums = append(meta.Enums, EnumConst{Name: name, Cases: cases})
		case *wit.Flags:
			labels := make([]string, len(kind.Flags))
			for i, f := range kind.Flags {
				labels[i] = f.Name
			}
			meta.Flags = append(meta.Flags, FlagsConst{Name: name, Labels: labels})
		}
	}
	t.Interfaces = append(t.Interfaces, meta)

	for _, f := range iface.Functions.All() {
		if !f.IsFreestanding() {
			return errors.Unsupported(errors.PhaseDispatch, "resource function "+f.Name)
		}
		t.Imports = append(t.Imports, Import{
			Interface:  fq,
			Alias:      alias,
			Name:       f.Name,
			ScriptName: bridge.ScriptName(f.Name),
			Sig:        Sig{Params: f.Params, Result: f.Result},
			FlatSig:    abi.NewSignature(paramTypes(f.Params), f.Result, abi.DirImport),
		})
	}
	return nil
}

func (t *Table) addImportFunc(f *wit.Function) error {
	if !f.IsFreestanding() {
		return errors.Unsupported(errors.PhaseDispatch, "resource function "+f.Name)
	}
	t.Imports = append(t.Imports, Import{
		Name:       f.Name,
		ScriptName: bridge.ScriptName(f.Name),
		Sig:        Sig{Params: f.Params, Result: f.Result},
		FlatSig:    abi.NewSignature(paramTypes(f.Params), f.Result, abi.DirImport),
	})
	return nil
}

func (t *Table) addExport(iface string, f *wit.Function) error {
	if !f.IsFreestanding() {
		return errors.Unsupported(errors.PhaseDispatch, "resource function "+f.Name)
	}
	t.Exports = append(t.Exports, Export{
		Interface:  iface,
		Name:       f.Name,
		ScriptName: bridge.ScriptName(f.Name),
		Sig:        Sig{Params: f.Params, Result: f.Result},
		FlatSig:    abi.NewSignature(paramTypes(f.Params), f.Result, abi.DirExport),
	})
	return nil
}

// qualifiedName derives the fully qualified interface name and its
// unversioned alias. Falls back to the world map key for interfaces
// without package identity (inline interfaces).
func qualifiedName(iface *wit.Interface, key string) (fq, alias string) {
	if iface == nil || iface.Name == nil || iface.Package == nil {
		return key, ""
	}
	pkg := iface.Package.Name
	base := pkg.Namespace + ":" + pkg.Package + "/" + *iface.Name
	if pkg.Version == nil {
		return base, ""
	}
	return base + "@" + pkg.Version.String(), base
}

func paramTypes(params []wit.Param) []wit.Type {
	types := make([]wit.Type, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return types
}

// paramLayout computes the linear-memory layout of an indirect parameter
// block: per-parameter offsets, total padded size, and block alignment.
func paramLayout(calc *abi.Calculator, params []wit.Param) (offs []uint32, size, align uint32) {
	offs = make([]uint32, len(params))
	align = 1
	var off uint32
	for i, p := range params {
		info := calc.Calculate(p.Type)
		off = abi.AlignTo(off, info.Align)
		offs[i] = off
		off += info.Size
		if info.Align > align {
			align = info.Align
		}
	}
	return offs, abi.AlignTo(off, align), align
}
