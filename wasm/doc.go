// Package wasm emits and scans WebAssembly binary modules.
//
// This package covers the slice of the binary format the componentizer
// needs: encoding small synthesized core modules (types, functions, one
// memory, globals, exports, code) and scanning existing binaries for
// custom sections. It is an emitter, not a general parser.
//
// # Encoding
//
// Build a module and encode it:
//
//	m := &wasm.Module{
//	    Types:    []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
//	    Funcs:    []uint32{0},
//	    Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
//	    Code:     []wasm.FuncBody{{Code: body}},
//	}
//	data := m.Encode()
//
// Function bodies come from CodeWriter:
//
//	w := wasm.NewCodeWriter()
//	w.LocalGet(0).I32Const(1).I32Add().End()
//	body := w.Bytes()
//
// # Custom Sections
//
// Attached metadata travels in named custom sections. Scan them back out
// of any well-formed core module:
//
//	sections, err := wasm.ReadCustomSections(data)
//	payload, ok, err := wasm.CustomSectionByName(data, "my-section")
//
// Non-custom sections are size-skipped, so the scanner does not care which
// proposals the rest of the module uses.
package wasm
