package vm

import "testing"

// allocNProgram builds a program that performs n ALLOCs of the given size in
// a loop, discarding each handle, then one final ALLOC whose handle is left
// on top of stack at HALT. Used to drive the bump allocator toward
// exhaustion so GC pressure actually triggers.
func allocNProgram(n int, size int32) []byte {
	p := &program{}
	p.push(0).store(0) // counter = 0

	loop := int32(len(p.buf))
	p.load(0).push(int32(n)).op(Sub).jz(0) // patched below
	doneAt := len(p.buf) - 4

	p.push(size).op(Alloc).op(Pop) // allocate and discard handle
	p.load(0).push(1).op(Add).store(0)
	p.jmp(loop)

	done := int32(len(p.buf))
	p.buf[doneAt] = byte(done)
	p.buf[doneAt+1] = byte(done >> 8)
	p.buf[doneAt+2] = byte(done >> 16)
	p.buf[doneAt+3] = byte(done >> 24)

	p.push(size).op(Alloc).op(Halt)
	return p.bytes()
}

func TestAllocReturnsLiveHandle(t *testing.T) {
	code := new(program).push(4).op(Alloc).op(Halt).bytes()
	m := runToHalt(t, code)
	assert(t, m.Err() == nil, "unexpected error: %v", m.Err())

	top, ok := m.TopOfStack()
	assert(t, ok, "expected a handle on top of stack")
	assert(t, isHeapHandle(top), "expected %d to be recognized as a heap handle", top)
	assert(t, m.liveObjectCount() == 1, "expected one live object, got %d", m.liveObjectCount())
}

func TestNegativeAllocSizeFaults(t *testing.T) {
	code := new(program).push(-1).op(Alloc).op(Halt).bytes()
	m := runToHalt(t, code)
	assert(t, m.Err() == errInvalidAllocSize, "expected invalid alloc size fault, got %v", m.Err())
}

func TestGCReclaimsUnreachableObjects(t *testing.T) {
	// Each iteration allocates and immediately drops its only reference
	// (the handle is popped without being stored anywhere), so after enough
	// iterations to force a collection the dropped objects must be freed.
	code := allocNProgram(20000, 1)
	m := runToHalt(t, code)
	assert(t, m.Err() == nil, "unexpected error: %v", m.Err())
	assert(t, m.Stats().Cycles > 0, "expected at least one GC cycle to have run")
	assert(t, m.Stats().FreedObjects > 0, "expected at least one freed object, got %d", m.Stats().FreedObjects)
}

func TestHeapOverflowWhenNothingIsReclaimable(t *testing.T) {
	// Store every handle into flat memory so every object stays reachable
	// from a root; once the heap genuinely cannot satisfy another
	// allocation even after a GC cycle, ALLOC must fault.
	p := &program{}
	const slots = 1000
	for i := 0; i < slots; i++ {
		p.push(60000).op(Alloc).store(int32(i))
	}
	p.op(Halt)

	m := runToHalt(t, p.bytes())
	assert(t, m.Err() == errHeapOverflow, "expected heap overflow, got %v", m.Err())
}

func TestSweepResetsFreePtrOnlyWhenListEmpties(t *testing.T) {
	code := new(program).
		push(4).op(Alloc).op(Pop). // allocate and drop the only reference
		op(Halt).
		bytes()

	m := runToHalt(t, code)
	assert(t, m.Err() == nil, "unexpected error: %v", m.Err())
	assert(t, m.liveObjectCount() == 1, "expected the dropped object to stay on the allocated list until a GC cycle runs")

	before := m.FreePtr()
	m.gc()
	assert(t, m.FreePtr() == 0, "expected free_ptr reset to 0 once the allocated list emptied, was %d before and %d after", before, m.FreePtr())
}

func TestHandleSurvivesGCAndRoundTripsPayload(t *testing.T) {
	// The very first allocation in a fresh VM always lands at heap index 0
	// (freePtr starts at 0), so its handle is deterministically
	// HandleBase + HeaderWords — used here as a STORE/LOAD immediate
	// address the same way any guest program would address a field.
	const handle = int32(HandleBase + HeaderWords)

	code := new(program).
		push(1).op(Alloc).store(0). // alloc, then root the handle in memory[0]
		push(777).store(handle).    // write a payload word through the handle
		op(Halt).
		bytes()

	m := runToHalt(t, code)
	assert(t, m.Err() == nil, "unexpected error: %v", m.Err())
	assert(t, m.liveObjectCount() == 1, "expected one live object before GC, got %d", m.liveObjectCount())

	m.gc() // object is still reachable via memory[0]; must survive collection

	assert(t, m.liveObjectCount() == 1, "expected the object to survive GC via its flat-memory root, got %d live", m.liveObjectCount())
	assert(t, m.load(Word(handle)) == 777, "expected payload written through the handle to survive GC, got %d", m.load(Word(handle)))
}

func TestLeaksReportDoesNotSweep(t *testing.T) {
	code := new(program).
		push(4).op(Alloc).op(Pop). // unreachable object
		op(Halt).
		bytes()

	m := runToHalt(t, code)
	assert(t, m.Err() == nil, "unexpected error: %v", m.Err())

	before := m.liveObjectCount()
	m.reportLeaks()
	after := m.liveObjectCount()
	assert(t, before == after, "expected reportLeaks to leave the allocated list untouched, had %d now %d", before, after)
}
