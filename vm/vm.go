// Package vm implements the bytecode interpreter, its mark-and-sweep garbage
// collector, the interactive debugger front-end, and signal-driven
// introspection for the stack-based virtual machine described by the
// specification this repository implements.
package vm

import (
	"bufio"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GCStats mirrors the statistics the original VM accumulates per run
// (spec §4.C "Statistics maintained per run").
type GCStats struct {
	Cycles       int
	TotalGCTime  float64 // seconds
	FreedObjects int
	MaxHeapUsed  int32
}

// VM owns one program's entire execution state: the operand and return
// stacks, flat memory, heap arena, allocated-object list, program counter,
// and the debug/async-introspection machinery layered on top.
type VM struct {
	// Code
	code []byte
	pc   uint32

	// Operand stack: capacity OperandStackSize, sp == -1 means empty.
	opStack [OperandStackSize]Word
	sp      int

	// Return stack: capacity ReturnStackSize, rsp == -1 means empty.
	returnStack [ReturnStackSize]uint32
	rsp         int

	// Flat memory: spec §3, 1024 Words, lives for the whole run.
	memory [FlatMemorySize]Word

	// Heap arena: spec §3, 65536 Words, bump-allocated.
	heap          [HeapSize]Word
	freePtr       int32
	allocatedList int32 // -1 is the empty-list sentinel

	running bool
	errcode error

	stats GCStats

	// Debug/async machinery (nil unless requested by the caller).
	dbg   *Debugger
	async *asyncTriggers

	log zerolog.Logger

	stdin *bufio.Reader
}

// New constructs a VM ready to execute code. Debug mode and the async
// introspection channel are wired in separately via EnableDebugger /
// EnableAsyncTriggers so that plain interpreted runs pay nothing for them.
func New(code []byte) *VM {
	vm := &VM{
		code:          code,
		sp:            -1,
		rsp:           -1,
		allocatedList: -1,
		log:           log.Logger,
		stdin:         bufio.NewReader(os.Stdin),
	}
	return vm
}

// fault records a fatal runtime error and stops the dispatch loop. All
// faults are fatal to the current run (spec §7): the error flag is latched,
// running is cleared, and the caller emits the single diagnostic line.
func (vm *VM) fault(err error) {
	if vm.errcode == nil {
		vm.errcode = err
	}
	vm.running = false
}

// Err returns the fatal error that ended the run, if any.
func (vm *VM) Err() error { return vm.errcode }

// ExitCode returns the process exit status per spec §6: 0 on clean HALT,
// 1 on any runtime or load error.
func (vm *VM) ExitCode() int {
	if vm.errcode != nil {
		return 1
	}
	return 0
}

// TopOfStack reports the value on top of the operand stack and whether the
// stack is non-empty, for the clean-HALT reporting spec §7 describes.
func (vm *VM) TopOfStack() (Word, bool) {
	if vm.sp < 0 {
		return 0, false
	}
	return vm.opStack[vm.sp], true
}

// Stats returns the garbage collector's cumulative statistics.
func (vm *VM) Stats() GCStats { return vm.stats }

// PC returns the current program counter (exported for the debugger and
// diagnostics; not mutated by anything outside this package).
func (vm *VM) PC() uint32 { return vm.pc }

// SP returns the current operand-stack index (-1 when empty).
func (vm *VM) SP() int { return vm.sp }

// RSP returns the current return-stack index (-1 when empty).
func (vm *VM) RSP() int { return vm.rsp }

// FreePtr returns the heap bump pointer.
func (vm *VM) FreePtr() int32 { return vm.freePtr }

// liveObjectCount walks the allocated list and counts its entries; used by
// both the "memstat" debugger command and the async memstat trigger.
func (vm *VM) liveObjectCount() int {
	count := 0
	for curr := vm.allocatedList; curr != -1; curr = vm.headerNext(curr) {
		count++
	}
	return count
}

// SetLogger overrides the zerolog.Logger used for diagnostics (tests and
// main wire this to control verbosity/output).
func (vm *VM) SetLogger(l zerolog.Logger) { vm.log = l }
