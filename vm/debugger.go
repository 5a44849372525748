package vm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// maxBreakpoints bounds the breakpoint table, matching the fixed-size
// breakpoint array the original debug shell allocates (spec §5).
const maxBreakpoints = 4096

// Debugger is the interactive front-end attached to a VM in debug mode. It
// owns the breakpoint table and single-step flag; the dispatch loop consults
// it at every instruction boundary via shouldPause.
type Debugger struct {
	vm *VM

	breakpoints map[uint32]bool
	stepMode    bool

	lines *DebugLineTable
	rl    *readline.Instance

	out io.Writer
}

// NewDebugger builds a Debugger bound to vm and returns it without attaching
// it; EnableDebugger calls this and installs the result. lines may be nil (an
// empty table, looked up as "no source line known").
func NewDebugger(vm *VM, lines *DebugLineTable) (*Debugger, error) {
	rl, err := readline.New("vm-dbg> ")
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = &DebugLineTable{}
	}
	return &Debugger{
		vm:          vm,
		breakpoints: make(map[uint32]bool),
		stepMode:    true,
		lines:       lines,
		rl:          rl,
		out:         rl.Stdout(),
	}, nil
}

// EnableDebugger attaches a Debugger to vm, starting in single-step mode
// (spec §5: a debug-mode run begins paused before its first instruction).
func (vm *VM) EnableDebugger(lines *DebugLineTable) error {
	dbg, err := NewDebugger(vm, lines)
	if err != nil {
		return err
	}
	vm.dbg = dbg
	return nil
}

// Close releases the debugger's line-editing resources.
func (d *Debugger) Close() error {
	if d == nil || d.rl == nil {
		return nil
	}
	return d.rl.Close()
}

// shouldPause reports whether the dispatch loop must hand control to the
// REPL before executing the instruction at pc.
func (d *Debugger) shouldPause(pc uint32) bool {
	return d.stepMode || d.breakpoints[pc]
}

func (d *Debugger) sourceLineSuffix(pc uint32) string {
	if line := d.lines.Lookup(pc); line >= 0 {
		return fmt.Sprintf(" [Source Line %d]", line)
	}
	return ""
}

// enterREPL reads and executes commands until one of them resumes execution
// (step or continue) or the VM is told to quit. Also entered one final time
// after a fault, so the run stays inspectable until the user quits even
// though there is nothing left to step or continue into.
func (d *Debugger) enterREPL() {
	if err := d.vm.Err(); err != nil {
		fmt.Fprintf(d.out, "%s%s\n", err, d.sourceLineSuffix(d.vm.pc))
	} else if int(d.vm.pc) < len(d.vm.code) {
		fmt.Fprintf(d.out, "PC: %d, Opcode: 0x%02X%s\n", d.vm.pc, d.vm.code[d.vm.pc], d.sourceLineSuffix(d.vm.pc))
	}

	for {
		line, err := d.rl.Readline()
		if err != nil { // Ctrl-D / Ctrl-C / stream closed: treat like quit
			d.vm.running = false
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "step", "s":
			d.stepMode = true
			return
		case "continue", "c":
			d.stepMode = false
			return
		case "registers", "r":
			d.printRegisters()
		case "memstat":
			d.vm.reportMemstat()
		case "leaks":
			d.vm.reportLeaks()
		case "break":
			d.cmdBreak(fields)
		case "quit":
			d.vm.running = false
			return
		default:
			fmt.Fprintf(d.out, "unknown command: %s\n", fields[0])
		}
	}
}

func (d *Debugger) cmdBreak(fields []string) {
	if len(fields) != 2 {
		fmt.Fprintln(d.out, "usage: break <address>")
		return
	}
	addr, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		fmt.Fprintf(d.out, "invalid address: %s\n", fields[1])
		return
	}
	if len(d.breakpoints) >= maxBreakpoints {
		fmt.Fprintln(d.out, "breakpoint table full")
		return
	}
	d.breakpoints[uint32(addr)] = true
	fmt.Fprintf(d.out, "breakpoint set at %d\n", addr)
}

func (d *Debugger) printRegisters() {
	top, ok := d.vm.TopOfStack()
	fmt.Fprintf(d.out, "pc=%d sp=%d rsp=%d free_ptr=%d", d.vm.pc, d.vm.sp, d.vm.rsp, d.vm.freePtr)
	if ok {
		fmt.Fprintf(d.out, " top=%d\n", top)
	} else {
		fmt.Fprintf(d.out, " top=<empty>\n")
	}
}
