package vm

import "fmt"

// Opcode is a single bytecode instruction tag. Seven opcodes (PUSH, JMP family,
// STORE/LOAD, CALL) are followed by a little-endian int32 immediate; the rest
// stand alone.
//
// Byte values match the original C instruction set exactly (opcodes.h) so that
// bytecode images produced by any conforming assembler load unmodified.
type Opcode byte

const (
	Nop Opcode = 0x00

	Push Opcode = 0x01
	Pop  Opcode = 0x02
	Dup  Opcode = 0x03
	Halt Opcode = 0xFF

	Add Opcode = 0x10
	Sub Opcode = 0x11
	Mul Opcode = 0x12
	Div Opcode = 0x13
	Cmp Opcode = 0x14

	Jmp Opcode = 0x20
	Jz  Opcode = 0x21
	Jnz Opcode = 0x22

	Store Opcode = 0x30
	Load  Opcode = 0x31
	Call  Opcode = 0x40
	Ret   Opcode = 0x41

	Print Opcode = 0x50
	Input Opcode = 0x51
	Alloc Opcode = 0x60
)

var opcodeNames = map[Opcode]string{
	Nop: "nop", Push: "push", Pop: "pop", Dup: "dup", Halt: "halt",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Cmp: "cmp",
	Jmp: "jmp", Jz: "jz", Jnz: "jnz",
	Store: "store", Load: "load", Call: "call", Ret: "ret",
	Print: "print", Input: "input", Alloc: "alloc",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("?unknown(0x%02X)?", byte(op))
}

// HasImmediate reports whether op is followed by a 4-byte little-endian
// immediate in the bytecode image.
func (op Opcode) HasImmediate() bool {
	switch op {
	case Push, Jmp, Jz, Jnz, Store, Load, Call:
		return true
	default:
		return false
	}
}

// immediateWidth is the number of bytes an instruction occupies after its
// opcode byte.
const immediateWidth = 4

// Size limits from the data model (spec §3).
const (
	OperandStackSize = 256
	ReturnStackSize  = 256
	FlatMemorySize   = 1024
	HeapSize         = 65536

	// HeaderWords is the number of Words reserved at the head of every heap
	// allocation: [size_in_words, next_object_index, mark_bit].
	HeaderWords = 3

	// HandleBase is added to a heap payload's header index (plus HeaderWords)
	// to produce the Word a guest program sees as an ALLOC result; any Word
	// numerically within [HandleBase, HandleBase+HeapSize) is potentially a
	// live heap handle (spec §3 "Handle encoding").
	HandleBase = FlatMemorySize
)
