package gcsched

import (
	"math"
	"testing"
)

func TestAggressivePolicyForcesUnitThresholds(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t)
	NewAggressivePolicy(cfg, nil, Deps{})
	if cfg.SafepointThreshold() != 1 || cfg.AllocationThresholdBytes() != 1 {
		t.Fatalf("thresholds = %d/%d, want 1/1", cfg.SafepointThreshold(), cfg.AllocationThresholdBytes())
	}
}

func TestAggressivePolicyOncePerSafepoint(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, noAutoTune(math.MaxUint64)...)
	var rec recorder
	p := NewAggressivePolicy(cfg, rec.request, Deps{})
	td := NewThreadData(cfg, p.UpdateFromThreadData)

	for i := 0; i < 10; i++ {
		p.UpdateFromThreadData(td)
	}
	if rec.count() != 1 || rec.last() != ReasonSafepoint {
		t.Fatalf("requests = %v, want one safepoint request for the loop", rec.reasons)
	}

	p.UpdateFromThreadData(td)
	if rec.count() != 2 {
		t.Fatalf("a new call site should request again, got %d", rec.count())
	}
}

func TestAggressivePolicyHeapTrigger(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, noAutoTune(10)...)
	var rec recorder
	p := NewAggressivePolicy(cfg, rec.request, Deps{})
	td := NewThreadData(cfg, p.UpdateFromThreadData)

	var at []int
	for i := 0; i < 10; i++ {
		before := rec.count()
		td.OnAllocation(1)
		if rec.count() != before {
			at = append(at, i)
		}
	}
	if len(at) != 2 || at[0] != 0 || at[1] != 9 {
		t.Fatalf("requests at %v, want [0 9]", at)
	}
	if rec.reasons[1] != ReasonHeap {
		t.Fatalf("second request reason = %v, want heap", rec.reasons[1])
	}
}

func TestAggressivePolicyBothTriggersFire(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, noAutoTune(1)...)
	var rec recorder
	p := NewAggressivePolicy(cfg, rec.request, Deps{})
	td := NewThreadData(cfg, p.UpdateFromThreadData)

	td.OnAllocation(1)
	if rec.count() != 2 || rec.reasons[0] != ReasonSafepoint || rec.reasons[1] != ReasonHeap {
		t.Fatalf("requests = %v, want [safepoint heap]", rec.reasons)
	}
}

func TestAggressivePolicyTrackerBounded(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t)
	p := NewAggressivePolicy(cfg, nil, Deps{TrackerCapacity: 2, TrackerDepth: 4})
	if p.Tracker().Capacity() != 2 || p.Tracker().Depth() != 4 {
		t.Fatalf("tracker = %d/%d", p.Tracker().Capacity(), p.Tracker().Depth())
	}
	td := NewThreadData(cfg, p.UpdateFromThreadData)
	p.UpdateFromThreadData(td)
	p.UpdateFromThreadData(td)
	p.UpdateFromThreadData(td)
	if p.Tracker().Size() != 1 {
		t.Fatalf("size = %d, want 1 after overflowing capacity 2", p.Tracker().Size())
	}
}
