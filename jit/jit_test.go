package jit

import (
	"fmt"
	"testing"

	"github.com/sudo-karan/stackvm/vm"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

type asm struct {
	buf []byte
}

func (a *asm) op(o vm.Opcode) *asm {
	a.buf = append(a.buf, byte(o))
	return a
}

func (a *asm) imm(v int32) *asm {
	a.buf = append(a.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return a
}

func (a *asm) push(v int32) *asm { return a.op(vm.Push).imm(v) }

func TestCompileSimpleArithmetic(t *testing.T) {
	code := new(asm).push(2).push(3).op(vm.Add).push(4).op(vm.Mul).op(vm.Halt).buf

	fn, err := Compile(code)
	assert(t, err == nil, "unexpected compile error: %v", err)
	assert(t, fn() == 20, "expected (2+3)*4 == 20, got %d", fn())
}

func TestCompileBackwardLoop(t *testing.T) {
	// counter starts at 5, decrements to 0 via a backward JNZ loop, result
	// left on top of stack is the final (zero) counter value.
	a := &asm{}
	a.push(5)
	loop := len(a.buf)
	a.push(1).op(vm.Sub).op(vm.Dup).op(vm.Jnz).imm(int32(loop))
	a.op(vm.Halt)

	fn, err := Compile(a.buf)
	assert(t, err == nil, "unexpected compile error: %v", err)
	assert(t, fn() == 0, "expected loop to terminate with 0 on top, got %d", fn())
}

func TestCompileRejectsForwardJump(t *testing.T) {
	a := &asm{}
	a.push(1).op(vm.Jmp).imm(9999) // far past anything ever compiled
	a.op(vm.Halt)

	_, err := Compile(a.buf)
	assert(t, err != nil, "expected forward/unknown JMP to be rejected")
}

func TestCompileRejectsUnsupportedOpcode(t *testing.T) {
	code := new(asm).push(1).op(vm.Print).op(vm.Halt).buf
	_, err := Compile(code)
	assert(t, err != nil, "expected PRINT to be rejected by the JIT")
}

func TestInterpreterAndJITAgree(t *testing.T) {
	// push N; loop: push 1; sub; dup; jnz loop; halt — the same
	// backward-branch-only shape as TestCompileBackwardLoop, so both
	// engines can actually run it.
	a := &asm{}
	a.push(10)
	loop := len(a.buf)
	a.push(1).op(vm.Sub).op(vm.Dup).op(vm.Jnz).imm(int32(loop))
	a.op(vm.Halt)

	interpreted := vm.New(a.buf)
	interpreted.Run()
	assert(t, interpreted.Err() == nil, "interpreter error: %v", interpreted.Err())
	top, _ := interpreted.TopOfStack()

	fn, err := Compile(a.buf)
	assert(t, err == nil, "unexpected compile error: %v", err)
	assert(t, int64(top) == fn(), "interpreter and JIT disagree: %d vs %d", top, fn())
}
