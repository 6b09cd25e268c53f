// Package assemble produces and opens the final artifact: the arena core
// module wrapped with custom sections carrying the encoded world, the
// flat dispatch summary, and the snapshot image. The artifact stays a
// valid WebAssembly module, so any core runtime can instantiate it while
// a componentize-aware runner reads the sections back.
package assemble

import (
	"bytes"
	"context"
	"crypto/sha256"

	"github.com/tetratelabs/wazero"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/dispatch"
	"github.com/wippyai/componentize/errors"
	"github.com/wippyai/componentize/snapshot"
	"github.com/wippyai/componentize/wasm"
	"github.com/wippyai/componentize/world"
	"go.bytecodealliance.org/wit"
)

// Custom section names.
const (
	SectionWorld    = "componentize:world"
	SectionDispatch = "componentize:dispatch"
	SectionSnapshot = "componentize:snapshot"
)

// Assemble wraps the arena module with the three artifact sections, all
// keyed by the world's identity. The result is compiled once under
// wazero before it is returned, so a caller never writes an artifact
// that no runtime would accept.
func Assemble(ctx context.Context, w *wit.World, arena []byte, table *dispatch.Table, img *snapshot.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).Detail("no image to assemble").Build()
	}
	if table == nil {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).Detail("no dispatch table to assemble").Build()
	}

	id, err := world.Identity(w)
	if err != nil {
		return nil, err
	}
	if id != img.World {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).
			Detail("image world %s does not match the assembled world %s",
				world.HexIdentity(img.World)[:16], world.HexIdentity(id)[:16]).Build()
	}
	if !wasm.IsModule(arena) {
		return nil, errors.New(errors.PhaseAssemble, errors.KindInvalidImage).Detail("arena bytes are not a wasm module").Build()
	}

	encoded, err := world.EncodeWorld(w)
	if err != nil {
		return nil, err
	}

	out := wasm.AppendCustomSection(arena, SectionWorld, keyed(id, encoded))
	out = wasm.AppendCustomSection(out, SectionDispatch, keyed(id, encodeDispatch(table)))
	out = wasm.AppendCustomSection(out, SectionSnapshot, img.Encode())

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	if _, err := rt.CompileModule(ctx, out); err != nil {
		return nil, errors.Wrap(errors.PhaseAssemble, errors.KindInvalidImage, err, "assembled artifact does not compile")
	}
	return out, nil
}

// keyed prefixes a section payload with the world identity.
func keyed(id [sha256.Size]byte, payload []byte) []byte {
	out := make([]byte, 0, sha256.Size+len(payload))
	out = append(out, id[:]...)
	return append(out, payload...)
}

const (
	funcImport = 0
	funcExport = 1

	flagIndirect = 1 << 0
	flagRetPtr   = 1 << 1
)

// encodeDispatch flattens the table into the signature summary a
// consumer can read without recomputing the ABI: direction, wire and
// script names, calling convention flags, and the flat core types.
func encodeDispatch(table *dispatch.Table) []byte {
	var buf bytes.Buffer
	wasm.WriteLEB128u(&buf, uint32(len(table.Imports)+len(table.Exports)))
	for i := range table.Imports {
		imp := &table.Imports[i]
		writeFunc(&buf, funcImport, imp.WireName(), imp.ScriptName, imp.FlatSig)
	}
	for i := range table.Exports {
		exp := &table.Exports[i]
		writeFunc(&buf, funcExport, exp.WireName(), exp.ScriptName, exp.FlatSig)
	}
	return buf.Bytes()
}

func writeFunc(buf *bytes.Buffer, dir byte, wire, script string, sig abi.Signature) {
	buf.WriteByte(dir)
	writeString(buf, wire)
	writeString(buf, script)

	var flags byte
	if sig.ParamsIndirect {
		flags |= flagIndirect
	}
	if sig.RetPtr {
		flags |= flagRetPtr
	}
	buf.WriteByte(flags)

	wasm.WriteLEB128u(buf, uint32(len(sig.Params)))
	for _, t := range sig.Params {
		buf.WriteByte(byte(t))
	}
	wasm.WriteLEB128u(buf, uint32(len(sig.Results)))
	for _, t := range sig.Results {
		buf.WriteByte(byte(t))
	}
}

func writeString(buf *bytes.Buffer, s string) {
	wasm.WriteLEB128u(buf, uint32(len(s)))
	buf.WriteString(s)
}
