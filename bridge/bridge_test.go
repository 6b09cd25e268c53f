package bridge

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/dop251/goja"
	"github.com/wippyai/componentize/abi"
	"github.com/wippyai/componentize/errors"
)

// mockMemory implements Memory for testing
type mockMemory struct {
	data []byte
}

func newMockMemory(size int) *mockMemory {
	return &mockMemory{data: make([]byte, size)}
}

func (m *mockMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, fmt.Errorf("read [%d, %d) out of range", offset, offset+length)
	}
	return m.data[offset : offset+length], nil
}

func (m *mockMemory) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return fmt.Errorf("write [%d, %d) out of range", offset, offset+uint32(len(data)))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *mockMemory) ReadU8(offset uint32) (uint8, error) {
	return m.data[offset], nil
}

func (m *mockMemory) ReadU16(offset uint32) (uint16, error) {
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *mockMemory) ReadU32(offset uint32) (uint32, error) {
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *mockMemory) ReadU64(offset uint32) (uint64, error) {
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *mockMemory) WriteU8(offset uint32, value uint8) error {
	m.data[offset] = value
	return nil
}

func (m *mockMemory) WriteU16(offset uint32, value uint16) error {
	binary.LittleEndian.PutUint16(m.data[offset:], value)
	return nil
}

func (m *mockMemory) WriteU32(offset uint32, value uint32) error {
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *mockMemory) WriteU64(offset uint32, value uint64) error {
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

func (m *mockMemory) Size() uint32 {
	return uint32(len(m.data))
}

// mockAllocator implements Allocator as a bump pointer for testing
type mockAllocator struct {
	mem    *mockMemory
	offset uint32
}

func newMockAllocator(mem *mockMemory) *mockAllocator {
	return &mockAllocator{mem: mem, offset: 1024} // start at 1024 to test non-zero offsets
}

func (a *mockAllocator) Alloc(size, align uint32) (uint32, error) {
	a.offset = abi.AlignTo(a.offset, align)
	ptr := a.offset
	a.offset += size
	return ptr, nil
}

// nullAllocator reports exhaustion for every request
type nullAllocator struct{}

func (nullAllocator) Alloc(size, align uint32) (uint32, error) {
	return 0, nil
}

func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", kind)
	}
	werr, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("error type = %T, want *errors.Error: %v", err, err)
	}
	if werr.Kind != kind {
		t.Errorf("Kind = %v, want %v (error: %v)", werr.Kind, kind, werr)
	}
}

// script evaluates a source expression into a value for lowering tests.
func script(t *testing.T, rt *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := rt.RunString(src)
	if err != nil {
		t.Fatalf("script %q failed: %v", src, err)
	}
	return v
}
