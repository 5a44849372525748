package vm

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
)

// fetchImmediate reads the little-endian int32 immediate following the
// opcode at vm.pc and advances pc past it. A truncated immediate (not
// enough bytes left in the image) is a decode fault.
func (vm *VM) fetchImmediate() Word {
	if int(vm.pc)+immediateWidth > len(vm.code) {
		vm.fault(errTruncatedImage)
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(vm.code[vm.pc:]))
	vm.pc += immediateWidth
	return Word(v)
}

// step executes exactly one instruction. Safe to call from either the free-
// running dispatch loop or the debugger's "step" command — the two
// share this one definition of "one instruction" (spec §8, debugger
// transparency law).
func (vm *VM) step() {
	if int(vm.pc) >= len(vm.code) {
		vm.fault(errProgramFinished)
		return
	}

	op := Opcode(vm.code[vm.pc])
	vm.pc++

	switch op {
	case Nop:
		// no operation

	case Push:
		v := vm.fetchImmediate()
		vm.pushOperand(v)

	case Pop:
		vm.popOperand()

	case Dup:
		v := vm.peekOperand()
		if vm.errcode != nil {
			return
		}
		vm.pushOperand(v)

	case Halt:
		vm.running = false

	case Add:
		b, a := vm.popOperand(), vm.popOperand()
		if vm.errcode == nil {
			vm.pushOperand(a + b)
		}
	case Sub:
		b, a := vm.popOperand(), vm.popOperand()
		if vm.errcode == nil {
			vm.pushOperand(a - b)
		}
	case Mul:
		b, a := vm.popOperand(), vm.popOperand()
		if vm.errcode == nil {
			vm.pushOperand(a * b)
		}
	case Div:
		b, a := vm.popOperand(), vm.popOperand()
		if vm.errcode != nil {
			return
		}
		if b == 0 {
			vm.fault(errDivisionByZero)
			return
		}
		vm.pushOperand(a / b)
	case Cmp:
		b, a := vm.popOperand(), vm.popOperand()
		if vm.errcode != nil {
			return
		}
		if a < b {
			vm.pushOperand(1)
		} else {
			vm.pushOperand(0)
		}

	case Jmp:
		addr := vm.fetchImmediate()
		if vm.errcode != nil {
			return
		}
		vm.pc = uint32(addr)
	case Jz:
		addr := vm.fetchImmediate()
		v := vm.popOperand()
		if vm.errcode != nil {
			return
		}
		if v == 0 {
			vm.pc = uint32(addr)
		}
	case Jnz:
		addr := vm.fetchImmediate()
		v := vm.popOperand()
		if vm.errcode != nil {
			return
		}
		if v != 0 {
			vm.pc = uint32(addr)
		}

	case Store:
		idx := vm.fetchImmediate()
		v := vm.popOperand()
		if vm.errcode != nil {
			return
		}
		vm.store(idx, v)
	case Load:
		idx := vm.fetchImmediate()
		if vm.errcode != nil {
			return
		}
		v := vm.load(idx)
		if vm.errcode != nil {
			return
		}
		vm.pushOperand(v)

	case Call:
		addr := vm.fetchImmediate()
		if vm.errcode != nil {
			return
		}
		// Return address is the address after the 4-byte immediate, which
		// vm.pc already is (fetchImmediate advanced past it).
		vm.pushReturn(vm.pc)
		if vm.errcode != nil {
			return
		}
		vm.pc = uint32(addr)
	case Ret:
		addr := vm.popReturn()
		if vm.errcode != nil {
			return
		}
		vm.pc = addr

	case Print:
		v := vm.popOperand()
		if vm.errcode != nil {
			return
		}
		fmt.Printf("%d\n", v)

	case Input:
		vm.log.Info().Msg("Enter number: ")
		var v int32
		if _, err := fmt.Fscan(vm.stdin, &v); err != nil {
			vm.fault(errMalformedInput)
			return
		}
		vm.pushOperand(Word(v))

	case Alloc:
		vm.execAlloc()

	default:
		vm.fault(errUnknownOpcode)
	}
}

// execAlloc implements ALLOC: pop size, require size>=0 and enough room for
// a header-plus-payload run; if not, run one GC cycle and retry exactly
// once before failing (spec §4.B).
func (vm *VM) execAlloc() {
	size := vm.popOperand()
	if vm.errcode != nil {
		return
	}
	if size < 0 {
		vm.fault(errInvalidAllocSize)
		return
	}

	needed := int64(size) + HeaderWords
	if int64(vm.freePtr)+needed > HeapSize {
		vm.gc()
		if int64(vm.freePtr)+needed > HeapSize {
			vm.fault(errHeapOverflow)
			return
		}
	}

	addr := vm.freePtr
	vm.heap[addr] = size
	vm.heap[addr+1] = Word(vm.allocatedList)
	vm.heap[addr+2] = 0

	vm.allocatedList = addr
	vm.freePtr += int32(needed)

	if vm.freePtr > vm.stats.MaxHeapUsed {
		vm.stats.MaxHeapUsed = vm.freePtr
	}

	vm.pushOperand(Word(HandleBase) + Word(addr) + HeaderWords)
}

// Run executes the loaded program to completion (or to a fatal fault),
// servicing pending async introspection triggers and the debugger's
// step/breakpoint checks at each instruction boundary (spec §5's
// suspension points).
//
// The host's own garbage collector is disabled for the duration of the run
// and restored on return: the guest program's working set is allocated up
// front (the fixed-size stacks, flat memory and heap arrays embedded in the
// VM struct), so the only allocations Go's GC would ever see during
// dispatch are incidental, and pausing it keeps the tight per-instruction
// loop free of collection pauses.
func (vm *VM) Run() {
	restore := disableHostGC()
	defer restore()

	vm.running = true
	for vm.running {
		vm.drainPending()

		if vm.dbg != nil && vm.dbg.shouldPause(vm.pc) {
			vm.dbg.enterREPL()
			if !vm.running {
				break
			}
		}

		vm.step()
	}

	// A fault is a terminal stop, not a silent exit: in debug mode the
	// session stays inspectable until the user quits (spec'd propagation
	// policy for the debugger).
	if vm.dbg != nil && vm.errcode != nil {
		vm.dbg.enterREPL()
	}
}

// disableHostGC mirrors the GOGC value at entry, disables the garbage
// collector, and returns a closure that restores it.
func disableHostGC() func() {
	percent := 100
	if v, ok := os.LookupEnv("GOGC"); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			percent = parsed
		}
	}
	debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(percent) }
}
