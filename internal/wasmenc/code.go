package wasmenc

// Opcodes used by the emitter.
const (
	opUnreachable byte = 0x00
	opBlock       byte = 0x02
	opIf          byte = 0x04
	opEnd         byte = 0x0B
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opDrop        byte = 0x1A
	opLocalGet    byte = 0x20
	opLocalSet    byte = 0x21
	opLocalTee    byte = 0x22
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opI32Load     byte = 0x28
	opI32Store    byte = 0x36
	opMemorySize  byte = 0x3F
	opMemoryGrow  byte = 0x40
	opI32Const    byte = 0x41
	opI32Eqz      byte = 0x45
	opI32Eq       byte = 0x46
	opI32LeU      byte = 0x4D
	opI32Add      byte = 0x6A
	opI32Sub      byte = 0x6B
	opI32And      byte = 0x71
	opI32Shl      byte = 0x74
	opI32ShrU     byte = 0x76

	blockEmpty byte = 0x40
)

// Code accumulates a function body. The terminating end is appended by the
// module encoder.
type Code struct {
	buf Buffer
}

func (c *Code) op(b byte) *Code {
	c.buf.AppendByte(b)
	return c
}

func (c *Code) idx(b byte, i uint32) *Code {
	c.buf.AppendByte(b)
	c.buf.WriteU32(i)
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { return c.idx(opLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.idx(opLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.idx(opLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.idx(opGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.idx(opGlobalSet, i) }
func (c *Code) Call(fn uint32) *Code     { return c.idx(opCall, fn) }
func (c *Code) BrIf(depth uint32) *Code  { return c.idx(opBrIf, depth) }

func (c *Code) I32Const(v int32) *Code {
	c.buf.AppendByte(opI32Const)
	c.buf.WriteI32(v)
	return c
}

// I32Load loads with natural alignment from the address on the stack plus offset.
func (c *Code) I32Load(offset uint32) *Code {
	c.buf.AppendByte(opI32Load)
	c.buf.WriteU32(2)
	c.buf.WriteU32(offset)
	return c
}

// I32Store stores with natural alignment at the address on the stack plus offset.
func (c *Code) I32Store(offset uint32) *Code {
	c.buf.AppendByte(opI32Store)
	c.buf.WriteU32(2)
	c.buf.WriteU32(offset)
	return c
}

func (c *Code) Block() *Code {
	c.buf.AppendByte(opBlock)
	c.buf.AppendByte(blockEmpty)
	return c
}

func (c *Code) If() *Code {
	c.buf.AppendByte(opIf)
	c.buf.AppendByte(blockEmpty)
	return c
}

func (c *Code) MemorySize() *Code {
	c.buf.AppendByte(opMemorySize)
	c.buf.AppendByte(0x00)
	return c
}

func (c *Code) MemoryGrow() *Code {
	c.buf.AppendByte(opMemoryGrow)
	c.buf.AppendByte(0x00)
	return c
}

func (c *Code) End() *Code         { return c.op(opEnd) }
func (c *Code) Return() *Code      { return c.op(opReturn) }
func (c *Code) Drop() *Code        { return c.op(opDrop) }
func (c *Code) Unreachable() *Code { return c.op(opUnreachable) }
func (c *Code) I32Eqz() *Code      { return c.op(opI32Eqz) }
func (c *Code) I32Eq() *Code       { return c.op(opI32Eq) }
func (c *Code) I32LeU() *Code      { return c.op(opI32LeU) }
func (c *Code) I32Add() *Code      { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code      { return c.op(opI32Sub) }
func (c *Code) I32And() *Code      { return c.op(opI32And) }
func (c *Code) I32Shl() *Code      { return c.op(opI32Shl) }
func (c *Code) I32ShrU() *Code     { return c.op(opI32ShrU) }

// TrapIfZero traps when local i is zero.
func (c *Code) TrapIfZero(i uint32) *Code {
	return c.LocalGet(i).I32Eqz().If().Unreachable().End()
}

// Bytes returns the instructions emitted so far.
func (c *Code) Bytes() []byte {
	return c.buf.Bytes
}
