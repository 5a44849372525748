package vm

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// triggerKind identifies one of the three out-of-band introspection
// triggers (spec §4.F).
type triggerKind int

const (
	triggerMemstat triggerKind = iota
	triggerLeaks
	triggerForceGC
)

// asyncTriggers delivers signal-originated introspection requests to the
// dispatch loop at instruction boundaries. Signal handlers in Go already run
// on their own goroutine rather than true async-signal-unsafe handler
// context, but we still follow spec §9's instruction literally: the
// channel-receiving goroutine only ever sets a pending flag, and all actual
// VM state access happens from the dispatch loop when it next polls
// (drainPending), never from the signal-notification goroutine itself.
//
// Kept to the original's exact assignment: SIGUSR1 -> memstat, SIGUSR2 ->
// leaks, SIGURG -> force-gc (original_source/src/vm/vm.c).
type asyncTriggers struct {
	pending chan triggerKind
	sigCh   chan os.Signal
	done    chan struct{}
}

// newAsyncTriggers installs signal handlers and returns the trigger source.
// Up to three requests, of any kinds, can queue without blocking the
// signal-delivery goroutine. Requests are not coalesced by kind: a repeat of
// a kind already pending takes a slot of its own, and a signal that arrives
// while three requests are queued is dropped.
func newAsyncTriggers() *asyncTriggers {
	a := &asyncTriggers{
		pending: make(chan triggerKind, 3),
		sigCh:   make(chan os.Signal, 3),
		done:    make(chan struct{}),
	}
	signal.Notify(a.sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGURG)

	go func() {
		for {
			select {
			case sig, ok := <-a.sigCh:
				if !ok {
					return
				}
				var kind triggerKind
				switch sig {
				case syscall.SIGUSR1:
					kind = triggerMemstat
				case syscall.SIGUSR2:
					kind = triggerLeaks
				case syscall.SIGURG:
					kind = triggerForceGC
				default:
					continue
				}
				select {
				case a.pending <- kind:
				default:
					// Queue already full; drop rather than block the
					// notification goroutine.
				}
			case <-a.done:
				return
			}
		}
	}()

	return a
}

func (a *asyncTriggers) stop() {
	signal.Stop(a.sigCh)
	close(a.done)
}

// drainPending services every trigger queued since the last safe point. It
// must only be called from the dispatch loop, between instructions (spec
// §5 "Suspension points").
func (vm *VM) drainPending() {
	if vm.async == nil {
		return
	}
	for {
		select {
		case kind := <-vm.async.pending:
			vm.serviceTrigger(kind)
		default:
			return
		}
	}
}

func (vm *VM) serviceTrigger(kind triggerKind) {
	switch kind {
	case triggerMemstat:
		vm.reportMemstat()
	case triggerLeaks:
		vm.reportLeaks()
	case triggerForceGC:
		vm.reportForceGC()
	}
	os.Stdout.Sync()
}

func (vm *VM) reportMemstat() {
	live := vm.liveObjectCount()
	fmt.Printf("[VM Memory Stats]\n  Heap Used: %d / %d words\n  GC Runs: %d\n  Freed Objects: %d\n  Live Objects: %d\n",
		vm.freePtr, HeapSize, vm.stats.Cycles, vm.stats.FreedObjects, live)
	vm.log.Info().
		Int32("heap_used", vm.freePtr).
		Int("gc_runs", vm.stats.Cycles).
		Int("freed", vm.stats.FreedObjects).
		Int("live", live).
		Msg("memstat")
}

// reportLeaks runs a full mark pass without sweeping (spec §4.F), reports
// every unmarked live-list object as a leak, then resets mark bits so a
// subsequent real GC cycle is unaffected.
func (vm *VM) reportLeaks() {
	vm.markRoots()

	fmt.Println("[Leaks Report]")
	leaks, totalWords := 0, 0
	for curr := vm.allocatedList; curr != -1; curr = vm.headerNext(curr) {
		if !vm.headerMark(curr) {
			size := int(vm.headerSize(curr))
			fmt.Printf("  Leak: Object at Heap[%d] (Size: %d words)\n", curr, size)
			leaks++
			totalWords += size
		}
	}
	if leaks == 0 {
		fmt.Println("  No leaks detected.")
	} else {
		fmt.Printf("  Summary: %d leaked objects, %d total words.\n", leaks, totalWords)
	}

	// Reset mark bits: this was a leak check, not a collection.
	for curr := vm.allocatedList; curr != -1; curr = vm.headerNext(curr) {
		vm.setHeaderMark(curr, false)
	}

	vm.log.Info().Int("leaks", leaks).Int("words", totalWords).Msg("leak check")
}

func (vm *VM) reportForceGC() {
	start := time.Now()
	vm.gc()
	fmt.Printf("[VM] Forcing Garbage Collection...\n[VM] GC Complete. Heap: %d / %d words\n", vm.freePtr, HeapSize)
	vm.log.Info().Dur("took", time.Since(start)).Int32("heap_used", vm.freePtr).Msg("forced gc")
}

// EnableAsyncTriggers wires the memstat/leaks/force-gc signal handlers into
// this VM. Debug-mode and plain runs may both enable this independently of
// EnableDebugger.
func (vm *VM) EnableAsyncTriggers() {
	vm.async = newAsyncTriggers()
}

// Close releases the VM's background resources: the signal handling
// goroutine and, if a debugger was attached, its line-editing state. Safe to
// call on a VM that never enabled either.
func (vm *VM) Close() {
	if vm.async != nil {
		vm.async.stop()
	}
	if vm.dbg != nil {
		vm.dbg.Close()
	}
}
