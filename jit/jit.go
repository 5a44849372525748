//go:build amd64

// Package jit compiles a subset of the bytecode instruction set (stack and
// arithmetic opcodes plus backward-only branches) directly to x86-64 machine code, one pass over the image, and runs it
// from a single call boundary. It exists purely as a speed experiment
// alongside the interpreter: any image the JIT cannot compile is a hard
// failure, never a silent fallback, so callers always know which engine
// actually produced a result.
package jit

import (
	"fmt"

	"golang.org/x/sys/unix"

	vm "github.com/sudo-karan/stackvm/vm"
)

// codeBufSize bounds the generated machine code; matches the original
// single-pass compiler's fixed 4096-byte buffer.
const codeBufSize = 4096

// CompiledFunc is a runnable compiled program. Calling it executes the
// compiled machine code on the host CPU and returns the VM's top-of-stack
// value at HALT.
type CompiledFunc func() int64

// buffer accumulates machine code bytes and the bytecode-offset ->
// machine-code-offset mapping the backward-branch patcher needs.
type buffer struct {
	mem     []byte
	pos     int
	mapping map[int]int // bytecode pc -> machine code offset, only for pc's actually reached
}

func newBuffer(mem []byte) *buffer {
	return &buffer{mem: mem, mapping: make(map[int]int)}
}

func (b *buffer) byte(v byte) {
	b.mem[b.pos] = v
	b.pos++
}

func (b *buffer) bytes(vs ...byte) {
	for _, v := range vs {
		b.byte(v)
	}
}

func (b *buffer) int32(v int32) {
	b.mem[b.pos] = byte(v)
	b.mem[b.pos+1] = byte(v >> 8)
	b.mem[b.pos+2] = byte(v >> 16)
	b.mem[b.pos+3] = byte(v >> 24)
	b.pos += 4
}

// Compile translates code into machine instructions and returns a callable
// compiled function backed by a fresh RWX mapping. Compilation fails — the
// same way the original single-pass compiler does — on any opcode outside
// the supported straight-line/backward-branch subset (CALL, RET, STORE,
// LOAD, PRINT, INPUT and ALLOC are all unsupported), and on any JMP/JZ/JNZ
// whose target is not a backward branch to an already-compiled instruction.
func Compile(code []byte) (CompiledFunc, error) {
	mem, err := unix.Mmap(-1, 0, codeBufSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap executable buffer: %w", err)
	}

	b := newBuffer(mem)

	// Prologue: push rbp; mov rbp, rsp; push rbx
	b.byte(0x55)
	b.bytes(0x48, 0x89, 0xE5)
	b.byte(0x53)

	pc := 0
	for pc < len(code) {
		currentPC := pc
		b.mapping[currentPC] = b.pos

		op := vm.Opcode(code[pc])
		pc++

		switch op {
		case vm.Push:
			val, ok := readImmediate(code, pc)
			if !ok {
				unix.Munmap(mem)
				return nil, fmt.Errorf("jit: truncated PUSH immediate at %d", currentPC)
			}
			pc += 4
			b.byte(0x68)
			b.int32(val)

		case vm.Pop:
			b.byte(0x58) // pop rax

		case vm.Dup:
			b.byte(0x58) // pop rax
			b.byte(0x50) // push rax
			b.byte(0x50) // push rax

		case vm.Add:
			b.byte(0x5B)               // pop rbx
			b.byte(0x58)               // pop rax
			b.bytes(0x48, 0x01, 0xD8)  // add rax, rbx
			b.byte(0x50)               // push rax

		case vm.Sub:
			b.byte(0x5B)
			b.byte(0x58)
			b.bytes(0x48, 0x29, 0xD8) // sub rax, rbx
			b.byte(0x50)

		case vm.Mul:
			b.byte(0x5B)
			b.byte(0x58)
			b.bytes(0x48, 0x0F, 0xAF, 0xC3) // imul rax, rbx
			b.byte(0x50)

		case vm.Cmp:
			b.byte(0x5B) // pop rbx (b)
			b.byte(0x58) // pop rax (a)
			b.bytes(0x48, 0x39, 0xD8)       // cmp rax, rbx
			b.bytes(0x0F, 0x9C, 0xC0)       // setl al
			b.bytes(0x48, 0x0F, 0xB6, 0xC0) // movzx rax, al
			b.byte(0x50)                    // push rax

		case vm.Jmp:
			target, ok := readImmediate(code, pc)
			if !ok {
				unix.Munmap(mem)
				return nil, fmt.Errorf("jit: truncated JMP immediate at %d", currentPC)
			}
			pc += 4
			targetOff, known := b.mapping[int(target)]
			if target >= int32(currentPC) || !known {
				unix.Munmap(mem)
				return nil, fmt.Errorf("jit: forward or unknown JMP target %d at %d", target, currentPC)
			}
			rel := int32(targetOff - (b.pos + 5))
			b.byte(0xE9)
			b.int32(rel)

		case vm.Jz, vm.Jnz:
			target, ok := readImmediate(code, pc)
			if !ok {
				unix.Munmap(mem)
				return nil, fmt.Errorf("jit: truncated %s immediate at %d", op, currentPC)
			}
			pc += 4
			b.byte(0x58)              // pop rax
			b.bytes(0x48, 0x85, 0xC0) // test rax, rax
			targetOff, known := b.mapping[int(target)]
			if target >= int32(currentPC) || !known {
				unix.Munmap(mem)
				return nil, fmt.Errorf("jit: forward or unknown %s target %d at %d", op, target, currentPC)
			}
			rel := int32(targetOff - (b.pos + 6))
			if op == vm.Jz {
				b.bytes(0x0F, 0x84) // je rel32
			} else {
				b.bytes(0x0F, 0x85) // jne rel32
			}
			b.int32(rel)

		case vm.Halt:
			b.byte(0x58) // pop rax: result
			b.byte(0x5B) // pop rbx: restore callee-saved
			b.byte(0xC9) // leave
			b.byte(0xC3) // ret
			return makeCallable(mem), nil

		default:
			unix.Munmap(mem)
			return nil, fmt.Errorf("jit: unsupported opcode %s at %d", op, currentPC)
		}
	}

	// Image ran out of instructions without a HALT: fall back to the same
	// epilogue so a caller at least gets a defined return value rather than
	// running off the end of the buffer.
	b.byte(0x58)
	b.byte(0x5B)
	b.byte(0xC9)
	b.byte(0xC3)
	return makeCallable(mem), nil
}

func readImmediate(code []byte, pc int) (int32, bool) {
	if pc+4 > len(code) {
		return 0, false
	}
	v := int32(code[pc]) | int32(code[pc+1])<<8 | int32(code[pc+2])<<16 | int32(code[pc+3])<<24
	return v, true
}
