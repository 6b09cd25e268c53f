package engine

import (
	"github.com/wippyai/componentize/wasm"
)

// Export names of the arena core module. CabiRealloc follows the canonical
// allocator convention: (orig-ptr, orig-size, align, new-size) -> ptr.
const (
	MemoryName  = "memory"
	CabiRealloc = "cabi_realloc"
	HeapGlobal  = "__heap"
)

// heapBase is the first allocatable address. The low kilobyte stays unused
// so a zero pointer never aliases a live allocation.
const heapBase = 1024

// ArenaModule emits the arena core module: one exported linear memory, a
// bump allocator behind the canonical cabi_realloc signature, and the bump
// pointer as an exported mutable global so the driver can record and reset
// it around calls. The module imports nothing; the emitted bytes depend
// only on this package's build.
func ArenaModule() []byte {
	const (
		pOrigPtr  = 0
		pOrigSize = 1
		pAlign    = 2
		pNewSize  = 3
		lAligned  = 4
		lEnd      = 5
		lCopy     = 6
	)

	body := wasm.NewCodeWriter().
		// A zero-size request returns the alignment value: non-null,
		// aligned, never dereferenced.
		LocalGet(pNewSize).I32Eqz().IfVoid().
		LocalGet(pAlign).Return().
		End().
		// aligned = (heap + align - 1) & ^(align - 1)
		GlobalGet(0).
		LocalGet(pAlign).I32Add().
		I32Const(1).I32Sub().
		LocalGet(pAlign).I32Const(1).I32Sub().
		I32Const(-1).I32Xor().
		I32And().
		LocalSet(lAligned).
		// end = aligned + new-size
		LocalGet(lAligned).LocalGet(pNewSize).I32Add().LocalSet(lEnd).
		// Grow when the block passes the current memory size. A failed
		// grow reports null; the driver surfaces allocator_failure.
		LocalGet(lEnd).
		MemorySize().I32Const(16).I32Shl().
		I32GtU().IfVoid().
		LocalGet(lEnd).
		MemorySize().I32Const(16).I32Shl().
		I32Sub().
		I32Const(0xFFFF).I32Add().
		I32Const(16).I32ShrU().
		MemoryGrow().
		I32Const(-1).I32Eq().IfVoid().
		I32Const(0).Return().
		End().
		End().
		// Preserve min(orig-size, new-size) bytes on reallocation.
		LocalGet(pOrigSize).IfVoid().
		LocalGet(pOrigSize).LocalSet(lCopy).
		LocalGet(pOrigSize).LocalGet(pNewSize).I32GtU().IfVoid().
		LocalGet(pNewSize).LocalSet(lCopy).
		End().
		LocalGet(lAligned).LocalGet(pOrigPtr).LocalGet(lCopy).
		MemoryCopy().
		End().
		// Publish the new watermark and hand back the block.
		LocalGet(lEnd).GlobalSet(0).
		LocalGet(lAligned).
		End().
		Bytes()

	m := &wasm.Module{
		Types: []wasm.FuncType{{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}},
		Funcs: []uint32{0},
		Memories: []wasm.MemoryType{{
			Limits: wasm.Limits{Min: 1},
		}},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: wasm.I32ConstExpr(heapBase),
		}},
		Exports: []wasm.Export{
			{Name: MemoryName, Kind: wasm.KindMemory, Idx: 0},
			{Name: CabiRealloc, Kind: wasm.KindFunc, Idx: 0},
			{Name: HeapGlobal, Kind: wasm.KindGlobal, Idx: 0},
		},
		Code: []wasm.FuncBody{{
			Locals: []wasm.Local{{Count: 3, Type: wasm.ValI32}},
			Code:   body,
		}},
	}
	return m.Encode()
}
