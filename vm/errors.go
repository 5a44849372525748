package vm

import "errors"

// Sentinel runtime faults (spec §7). All faults are fatal to the current run:
// the interpreter sets errcode, clears running, and the caller is responsible
// for emitting a single diagnostic and a nonzero exit status.
var (
	// Stack faults
	errStackOverflow        = errors.New("Stack Overflow")
	errStackUnderflow       = errors.New("Stack Underflow")
	errReturnStackOverflow  = errors.New("Return Stack Overflow")
	errReturnStackUnderflow = errors.New("Return Stack Underflow")

	// Memory faults
	errMemoryOutOfBounds = errors.New("Memory Access Out of Bounds")
	errHeapOutOfBounds   = errors.New("Heap Access Out of Bounds")
	errHeapOverflow      = errors.New("Heap Overflow")
	errInvalidAllocSize  = errors.New("Invalid Allocation Size")

	// Arithmetic faults
	errDivisionByZero = errors.New("Division by Zero")

	// Decode faults
	errUnknownOpcode   = errors.New("Unknown Opcode")
	errProgramFinished = errors.New("ran out of instructions")
	errTruncatedImage  = errors.New("truncated bytecode image")

	// I/O faults
	errMalformedInput = errors.New("Invalid Input")
)
