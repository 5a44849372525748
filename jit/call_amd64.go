package jit

import "unsafe"

//go:noescape
func callAsm(addr uintptr) int64

// makeCallable wraps a finished machine-code buffer in a Go closure. mem must
// stay mapped for as long as the returned CompiledFunc is callable — the
// closure keeps only the buffer's address, and nothing here unmaps the RWX
// mapping (it is not memory Go's GC manages).
func makeCallable(mem []byte) CompiledFunc {
	addr := uintptr(unsafe.Pointer(&mem[0]))
	return func() int64 {
		return callAsm(addr)
	}
}
