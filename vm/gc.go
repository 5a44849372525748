package vm

import "time"

// markRoots scans the root set (operand stack + flat memory; spec §3's
// GLOSSARY explicitly excludes the return stack, which holds code addresses
// rather than values) and marks every object transitively reachable from it.
// Used both by a real GC cycle and by the non-sweeping "leaks" trigger.
func (vm *VM) markRoots() {
	var worklist []int32

	enqueueIfHandle := func(v Word) {
		if !isHeapHandle(v) {
			return
		}
		h := candidateHeaderIndex(v)
		if h >= 0 {
			worklist = append(worklist, h)
		}
	}

	for i := 0; i <= vm.sp; i++ {
		enqueueIfHandle(vm.opStack[i])
	}
	for i := 0; i < FlatMemorySize; i++ {
		enqueueIfHandle(vm.memory[i])
	}

	// Transitive mark via explicit worklist rather than recursion (spec
	// §4.C "Recursion note" / §F.2): pop, mark if unmarked, push every
	// payload Word that itself looks like a heap handle.
	for len(worklist) > 0 {
		h := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if h < 0 || h >= HeapSize {
			continue
		}
		if vm.headerMark(h) {
			continue
		}
		vm.setHeaderMark(h, true)

		size := int32(vm.headerSize(h))
		payload := h + HeaderWords
		for i := int32(0); i < size && payload+i < HeapSize; i++ {
			enqueueIfHandle(vm.heap[payload+i])
		}
	}
}

// sweep walks the allocated list, unlinking every unmarked header and
// clearing the mark bit on every object it keeps. It never reclaims the
// payload words of a freed object individually — dead-object space between
// live objects is only reclaimed in bulk when the list becomes empty, which
// resets free_ptr to 0 (spec §4.C, "this is the spec, not a bug").
func (vm *VM) sweep() {
	prev := int32(-1)
	curr := vm.allocatedList

	for curr != -1 {
		next := vm.headerNext(curr)
		if vm.headerMark(curr) {
			vm.setHeaderMark(curr, false)
			prev = curr
		} else {
			if prev == -1 {
				vm.allocatedList = next
			} else {
				vm.setHeaderNext(prev, next)
			}
			vm.stats.FreedObjects++
		}
		curr = next
	}

	if vm.allocatedList == -1 {
		vm.freePtr = 0
	}
}

// gc runs one full mark-and-sweep cycle: stop-the-world (there is nothing
// else running), triggered only on ALLOC pressure or the force-gc async
// trigger (spec §4.C, §4.F).
func (vm *VM) gc() {
	start := time.Now()
	vm.stats.Cycles++

	vm.markRoots()
	vm.sweep()

	vm.stats.TotalGCTime += time.Since(start).Seconds()
}
