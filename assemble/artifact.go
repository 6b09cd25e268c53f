package assemble

import (
	"bytes"
	"crypto/sha256"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/snapshot"
	"github.com/wippyai/componentize/wasm"
	"github.com/wippyai/componentize/world"
	"go.bytecodealliance.org/wit"
)

// Artifact is a fully decoded componentize module: the world it was
// built against, the flat dispatch summary, and the snapshot image.
// Core is the original byte stream, still a valid wasm module.
type Artifact struct {
	Identity [sha256.Size]byte
	World    *wit.World
	Funcs    []FuncInfo
	Image    *snapshot.Image
	Core     []byte
}

// FuncInfo describes one dispatch entry as recorded in the artifact.
type FuncInfo struct {
	Imported bool
	Wire     string
	Script   string
	Indirect bool
	RetPtr   bool
	Params   []abi.CoreValType
	Results  []abi.CoreValType
}

// Signature renders the flat core signature, e.g. "add(i32, i32) -> i32".
func (f FuncInfo) Signature() string {
	var b strings.Builder
	b.WriteString(f.Wire)
	b.WriteByte('(')
	for i, t := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(api.ValueType(t)))
	}
	b.WriteByte(')')
	if len(f.Results) > 0 {
		b.WriteString(" -> ")
		for i, t := range f.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(api.ValueTypeName(api.ValueType(t)))
		}
	}
	return b.String()
}

// Export looks up an exported entry by wire name.
func (a *Artifact) Export(wire string) (FuncInfo, bool) {
	for _, f := range a.Funcs {
		if !f.Imported && f.Wire == wire {
			return f, true
		}
	}
	return FuncInfo{}, false
}

// Open decodes an assembled artifact and cross-checks that all three
// sections agree on the world identity. The image's own content id is
// verified by its decoder, so a tampered artifact fails here rather
// than at restore time.
func Open(data []byte) (*Artifact, error) {
	if !wasm.IsModule(data) {
		return nil, badArtifact("not a wasm module")
	}

	id, w, err := openWorld(data)
	if err != nil {
		return nil, err
	}
	funcs, err := openDispatch(data, id)
	if err != nil {
		return nil, err
	}
	img, err := openSnapshot(data, id)
	if err != nil {
		return nil, err
	}

	core := make([]byte, len(data))
	copy(core, data)
	return &Artifact{Identity: id, World: w, Funcs: funcs, Image: img, Core: core}, nil
}

func openWorld(data []byte) ([sha256.Size]byte, *wit.World, error) {
	var id [sha256.Size]byte
	payload, ok, err := wasm.CustomSectionByName(data, SectionWorld)
	if err != nil {
		return id, nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).
			Cause(err).Detail("read %s section", SectionWorld).Build()
	}
	if !ok {
		return id, nil, badArtifact("artifact carries no %s section", SectionWorld)
	}
	if len(payload) < sha256.Size {
		return id, nil, badArtifact("%s section truncated", SectionWorld)
	}
	copy(id[:], payload[:sha256.Size])

	w, err := world.DecodeWorld(payload[sha256.Size:])
	if err != nil {
		return id, nil, err
	}
	got, err := world.Identity(w)
	if err != nil {
		return id, nil, err
	}
	if got != id {
		return id, nil, badArtifact("world section does not hash to its recorded identity %s", world.HexIdentity(id)[:16])
	}
	return id, w, nil
}

func openDispatch(data []byte, id [sha256.Size]byte) ([]FuncInfo, error) {
	payload, ok, err := wasm.CustomSectionByName(data, SectionDispatch)
	if err != nil {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).
			Cause(err).Detail("read %s section", SectionDispatch).Build()
	}
	if !ok {
		return nil, badArtifact("artifact carries no %s section", SectionDispatch)
	}
	if len(payload) < sha256.Size {
		return nil, badArtifact("%s section truncated", SectionDispatch)
	}
	var got [sha256.Size]byte
	copy(got[:], payload[:sha256.Size])
	if got != id {
		return nil, badArtifact("dispatch section keyed to world %s, artifact world is %s",
			world.HexIdentity(got)[:16], world.HexIdentity(id)[:16])
	}
	return decodeDispatch(payload[sha256.Size:])
}

func openSnapshot(data []byte, id [sha256.Size]byte) (*snapshot.Image, error) {
	payload, ok, err := wasm.CustomSectionByName(data, SectionSnapshot)
	if err != nil {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).
			Cause(err).Detail("read %s section", SectionSnapshot).Build()
	}
	if !ok {
		return nil, badArtifact("artifact carries no %s section", SectionSnapshot)
	}
	img, err := snapshot.DecodeImage(payload)
	if err != nil {
		return nil, err
	}
	if img.World != id {
		return nil, badArtifact("snapshot built for world %s, artifact world is %s",
			world.HexIdentity(img.World)[:16], world.HexIdentity(id)[:16])
	}
	return img, nil
}

func decodeDispatch(data []byte) ([]FuncInfo, error) {
	d := &dispatchDecoder{r: bytes.NewReader(data)}
	count := d.u32()
	// Each entry takes at least six bytes: direction, two name lengths,
	// flags, and two type counts.
	if uint64(count)*6 > uint64(d.r.Len()) {
		d.fail("dispatch section declares %d functions in %d bytes", count, d.r.Len())
	}
	funcs := make([]FuncInfo, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		funcs = append(funcs, d.fn())
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.r.Len() != 0 {
		return nil, badArtifact("dispatch section has %d trailing bytes", d.r.Len())
	}
	return funcs, nil
}

type dispatchDecoder struct {
	r   *bytes.Reader
	err error
}

func (d *dispatchDecoder) fail(detail string, args ...any) {
	if d.err == nil {
		d.err = badArtifact(detail, args...)
	}
}

func (d *dispatchDecoder) byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail("dispatch section truncated")
		return 0
	}
	return b
}

func (d *dispatchDecoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := wasm.ReadLEB128u(d.r)
	if err != nil {
		d.fail("dispatch section truncated")
		return 0
	}
	return v
}

func (d *dispatchDecoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint64(n) > uint64(d.r.Len()) {
		d.fail("dispatch section truncated")
		return ""
	}
	buf := make([]byte, n)
	if _, err := d.r.Read(buf); err != nil {
		d.fail("dispatch section truncated")
		return ""
	}
	return string(buf)
}

func (d *dispatchDecoder) types() []abi.CoreValType {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(d.r.Len()) {
		d.fail("dispatch section truncated")
		return nil
	}
	out := make([]abi.CoreValType, n)
	for i := range out {
		t := d.byte()
		switch api.ValueType(t) {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
			out[i] = abi.CoreValType(t)
		default:
			d.fail("dispatch section has unknown core type 0x%02x", t)
			return nil
		}
	}
	return out
}

func (d *dispatchDecoder) fn() FuncInfo {
	var f FuncInfo
	switch dir := d.byte(); dir {
	case funcImport:
		f.Imported = true
	case funcExport:
	default:
		d.fail("dispatch section has unknown direction %d", dir)
		return f
	}
	f.Wire = d.str()
	f.Script = d.str()
	flags := d.byte()
	if flags&^(flagIndirect|flagRetPtr) != 0 {
		d.fail("dispatch entry %s has unknown flags 0x%02x", f.Wire, flags)
		return f
	}
	f.Indirect = flags&flagIndirect != 0
	f.RetPtr = flags&flagRetPtr != 0
	f.Params = d.types()
	f.Results = d.types()
	return f
}

func badArtifact(detail string, args ...any) error {
	return errors.New(errors.PhaseAssemble, errors.KindInvalidImage).Detail(detail, args...).Build()
}
