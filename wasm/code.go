package wasm

import (
	"bytes"
)

// CodeWriter builds a function body instruction by instruction. Call Bytes
// after the final End to get the encoded expression.
type CodeWriter struct {
	buf bytes.Buffer
}

// NewCodeWriter creates an empty code writer.
func NewCodeWriter() *CodeWriter {
	return &CodeWriter{}
}

// Bytes returns the encoded instruction stream.
func (c *CodeWriter) Bytes() []byte {
	return c.buf.Bytes()
}

func (c *CodeWriter) LocalGet(idx uint32) *CodeWriter {
	c.buf.WriteByte(OpLocalGet)
	WriteLEB128u(&c.buf, idx)
	return c
}

func (c *CodeWriter) LocalSet(idx uint32) *CodeWriter {
	c.buf.WriteByte(OpLocalSet)
	WriteLEB128u(&c.buf, idx)
	return c
}

func (c *CodeWriter) GlobalGet(idx uint32) *CodeWriter {
	c.buf.WriteByte(OpGlobalGet)
	WriteLEB128u(&c.buf, idx)
	return c
}

func (c *CodeWriter) GlobalSet(idx uint32) *CodeWriter {
	c.buf.WriteByte(OpGlobalSet)
	WriteLEB128u(&c.buf, idx)
	return c
}

func (c *CodeWriter) I32Const(v int32) *CodeWriter {
	c.buf.WriteByte(OpI32Const)
	WriteLEB128s(&c.buf, v)
	return c
}

func (c *CodeWriter) I32Add() *CodeWriter {
	c.buf.WriteByte(OpI32Add)
	return c
}

func (c *CodeWriter) I32Sub() *CodeWriter {
	c.buf.WriteByte(OpI32Sub)
	return c
}

func (c *CodeWriter) I32And() *CodeWriter {
	c.buf.WriteByte(OpI32And)
	return c
}

func (c *CodeWriter) I32Xor() *CodeWriter {
	c.buf.WriteByte(OpI32Xor)
	return c
}

func (c *CodeWriter) I32Shl() *CodeWriter {
	c.buf.WriteByte(OpI32Shl)
	return c
}

func (c *CodeWriter) I32ShrU() *CodeWriter {
	c.buf.WriteByte(OpI32ShrU)
	return c
}

func (c *CodeWriter) I32Eqz() *CodeWriter {
	c.buf.WriteByte(OpI32Eqz)
	return c
}

func (c *CodeWriter) I32Eq() *CodeWriter {
	c.buf.WriteByte(OpI32Eq)
	return c
}

func (c *CodeWriter) I32GtU() *CodeWriter {
	c.buf.WriteByte(OpI32GtU)
	return c
}

func (c *CodeWriter) MemorySize() *CodeWriter {
	c.buf.WriteByte(OpMemorySize)
	c.buf.WriteByte(0x00)
	return c
}

func (c *CodeWriter) MemoryGrow() *CodeWriter {
	c.buf.WriteByte(OpMemoryGrow)
	c.buf.WriteByte(0x00)
	return c
}

func (c *CodeWriter) MemoryCopy() *CodeWriter {
	c.buf.WriteByte(OpPrefixMisc)
	WriteLEB128u(&c.buf, MiscMemoryCopy)
	c.buf.WriteByte(0x00)
	c.buf.WriteByte(0x00)
	return c
}

// IfVoid opens an if block with no result type.
func (c *CodeWriter) IfVoid() *CodeWriter {
	c.buf.WriteByte(OpIf)
	c.buf.WriteByte(BlockTypeVoid)
	return c
}

func (c *CodeWriter) End() *CodeWriter {
	c.buf.WriteByte(OpEnd)
	return c
}

func (c *CodeWriter) Return() *CodeWriter {
	c.buf.WriteByte(OpReturn)
	return c
}

// I32ConstExpr encodes a constant init expression for an i32 global.
func I32ConstExpr(v int32) []byte {
	var buf bytes.Buffer
	buf.WriteByte(OpI32Const)
	WriteLEB128s(&buf, v)
	buf.WriteByte(OpEnd)
	return buf.Bytes()
}
