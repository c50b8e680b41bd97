package gcsched

import "math"

// SlowPath is invoked by a ThreadData when one of its counters crosses its
// threshold. It runs synchronously on the owning goroutine.
type SlowPath func(td *ThreadData)

// noCopy makes `go vet` flag accidental copies of a ThreadData.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ThreadData is the per-mutator accumulator.
//
// It is owned by exactly one goroutine for its whole life: only that
// goroutine may call its methods, and it is only ever handled by pointer.
// The counters are plain integers for that reason.
type ThreadData struct {
	_ noCopy

	cfg      *Config
	slowPath SlowPath

	safepointCounter uint64
	allocatedBytes   uint64
}

// NewThreadData returns an accumulator reading thresholds from cfg.
// A nil slowPath is allowed and makes crossings reset-only.
func NewThreadData(cfg *Config, slowPath SlowPath) *ThreadData {
	if slowPath == nil {
		slowPath = func(*ThreadData) {}
	}
	return &ThreadData{cfg: cfg, slowPath: slowPath}
}

// OnSafepoint adds weight to the safepoint counter. When the counter reaches
// the current threshold the slow path runs, then the counter drops to zero.
func (t *ThreadData) OnSafepoint(weight uint64) {
	threshold := t.cfg.SafepointThreshold()
	t.safepointCounter = addSat(t.safepointCounter, weight)
	if t.safepointCounter < threshold {
		return
	}
	t.slowPath(t)
	t.safepointCounter = 0
}

// OnAllocation is OnSafepoint for allocated bytes.
func (t *ThreadData) OnAllocation(size uint64) {
	threshold := t.cfg.AllocationThresholdBytes()
	t.allocatedBytes = addSat(t.allocatedBytes, size)
	if t.allocatedBytes < threshold {
		return
	}
	t.slowPath(t)
	t.allocatedBytes = 0
}

// OnCollectionCompleted zeroes both counters. It never runs the slow path
// and is safe to call without a preceding crossing.
func (t *ThreadData) OnCollectionCompleted() {
	t.safepointCounter = 0
	t.allocatedBytes = 0
}

func (t *ThreadData) SafepointCounter() uint64 { return t.safepointCounter }
func (t *ThreadData) AllocatedBytes() uint64   { return t.allocatedBytes }

// takeAllocatedBytes hands the thread's bytes to a policy exactly once.
func (t *ThreadData) takeAllocatedBytes() uint64 {
	n := t.allocatedBytes
	t.allocatedBytes = 0
	return n
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
