package bridge

// Memory is the arena's linear memory as the marshaling layer sees it.
// All accesses are bounds-checked by the implementation.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
	Size() uint32
}

// Allocator obtains arena memory for variable-length payloads. The arena is
// a bump allocator: allocations are released in bulk when the driver resets
// the watermark after a call, so there is no per-allocation free.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
}
