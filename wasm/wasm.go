package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
// Sections must appear in increasing order by ID (except custom sections).
const (
	SectionCustom   byte = 0  // Custom section (can appear anywhere)
	SectionType     byte = 1  // Type section (function signatures)
	SectionImport   byte = 2  // Import section
	SectionFunction byte = 3  // Function section (type indices)
	SectionTable    byte = 4  // Table section
	SectionMemory   byte = 5  // Memory section
	SectionGlobal   byte = 6  // Global section
	SectionExport   byte = 7  // Export section
	SectionStart    byte = 8  // Start section
	SectionElement  byte = 9  // Element section
	SectionCode     byte = 10 // Code section (function bodies)
	SectionData     byte = 11 // Data section
)

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
)

// ValType is a value type encoding as defined in the WebAssembly binary format.
type ValType byte

const (
	ValI32 ValType = 0x7F // 32-bit integer
	ValI64 ValType = 0x7E // 64-bit integer
	ValF32 ValType = 0x7D // 32-bit float
	ValF64 ValType = 0x7C // 64-bit float
)

// FuncTypeByte prefixes function types in the type section.
const FuncTypeByte byte = 0x60

// BlockTypeVoid is the empty block type for structured instructions.
const BlockTypeVoid byte = 0x40

// Opcodes for the instruction subset the emitter produces.
const (
	OpIf         byte = 0x04
	OpEnd        byte = 0x0B
	OpReturn     byte = 0x0F
	OpLocalGet   byte = 0x20
	OpLocalSet   byte = 0x21
	OpGlobalGet  byte = 0x23
	OpGlobalSet  byte = 0x24
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
	OpI32Const   byte = 0x41
	OpI32Eqz     byte = 0x45
	OpI32Eq      byte = 0x46
	OpI32GtU     byte = 0x4B
	OpI32Add     byte = 0x6A
	OpI32Sub     byte = 0x6B
	OpI32And     byte = 0x71
	OpI32Xor     byte = 0x73
	OpI32Shl     byte = 0x74
	OpI32ShrU    byte = 0x76
	OpPrefixMisc byte = 0xFC
)

// Misc opcodes (0xFC prefix)
const (
	MiscMemoryCopy uint32 = 0x0A
)

// Memory limits flag bits.
const (
	LimitsHasMax byte = 0x01
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Limits bound a memory size in 64KB pages.
type Limits struct {
	Min uint32
	Max *uint32
}

// MemoryType describes one linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global pairs a global type with its init expression bytes.
type Global struct {
	Type GlobalType
	Init []byte
}

// Export names a function, memory, or global for the host.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Local declares a run of same-typed locals in a function body.
type Local struct {
	Count uint32
	Type  ValType
}

// FuncBody is one entry in the code section.
type FuncBody struct {
	Locals []Local
	Code   []byte
}

// CustomSection is a named opaque payload.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the subset of a core module this package can emit: enough for
// synthesized host-support modules (types, functions, one memory, globals,
// exports, code) plus custom sections for carried metadata.
type Module struct {
	Types          []FuncType
	Funcs          []uint32 // type index per function
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Code           []FuncBody
	CustomSections []CustomSection
}
