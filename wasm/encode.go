package wasm

import (
	"bytes"
	"encoding/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := new(bytes.Buffer)

	// Magic number and version
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	w.Write(hdr[:])

	// Type section
	if len(m.Types) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.WriteByte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	// Function section
	if len(m.Funcs) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			WriteLEB128u(sec, typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	// Memory section
	if len(m.Memories) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	// Global section
	if len(m.Globals) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.Write(g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	// Export section
	if len(m.Exports) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			writeName(sec, exp.Name)
			sec.WriteByte(exp.Kind)
			WriteLEB128u(sec, exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	// Code section
	if len(m.Code) > 0 {
		sec := new(bytes.Buffer)
		WriteLEB128u(sec, uint32(len(m.Code)))
		for _, body := range m.Code {
			bodyBuf := new(bytes.Buffer)
			WriteLEB128u(bodyBuf, uint32(len(body.Locals)))
			for _, local := range body.Locals {
				WriteLEB128u(bodyBuf, local.Count)
				bodyBuf.WriteByte(byte(local.Type))
			}
			bodyBuf.Write(body.Code)
			WriteLEB128u(sec, uint32(bodyBuf.Len()))
			sec.Write(bodyBuf.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	// Custom sections (at end)
	for _, cs := range m.CustomSections {
		sec := new(bytes.Buffer)
		writeName(sec, cs.Name)
		sec.Write(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// AppendCustomSection appends a named custom section to an already
// encoded module. Custom sections are valid at any position, so the
// module stays well formed.
func AppendCustomSection(module []byte, name string, data []byte) []byte {
	sec := new(bytes.Buffer)
	writeName(sec, name)
	sec.Write(data)

	out := make([]byte, 0, len(module)+sec.Len()+6)
	out = append(out, module...)
	w := bytes.NewBuffer(out)
	writeSection(w, SectionCustom, sec.Bytes())
	return w.Bytes()
}

func writeSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	WriteLEB128u(w, uint32(len(data)))
	w.Write(data)
}

func writeName(w *bytes.Buffer, name string) {
	WriteLEB128u(w, uint32(len(name)))
	w.WriteString(name)
}

func writeValTypes(w *bytes.Buffer, types []ValType) {
	WriteLEB128u(w, uint32(len(types)))
	for _, t := range types {
		w.WriteByte(byte(t))
	}
}

func writeLimits(w *bytes.Buffer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	w.WriteByte(flags)
	WriteLEB128u(w, l.Min)
	if l.Max != nil {
		WriteLEB128u(w, *l.Max)
	}
}

func writeGlobalType(w *bytes.Buffer, g GlobalType) {
	w.WriteByte(byte(g.ValType))
	if g.Mutable {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}
