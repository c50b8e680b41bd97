package gcsched

import "testing"

//go:noinline
func registerFromHelper(tr *SafepointTracker) bool {
	return tr.RegisterCurrentSafepoint(0)
}

func TestTrackerRegisterInLoop(t *testing.T) {
	t.Parallel()
	tr := NewSafepointTracker(0, 0)
	var got []bool
	for i := 0; i < 5; i++ {
		got = append(got, tr.RegisterCurrentSafepoint(0))
	}
	if !got[0] {
		t.Fatalf("first visit should be new")
	}
	for i, v := range got[1:] {
		if v {
			t.Fatalf("visit %d reported new", i+1)
		}
	}
	if tr.Size() != 1 {
		t.Fatalf("size = %d, want 1", tr.Size())
	}
}

func TestTrackerDistinctCallSites(t *testing.T) {
	t.Parallel()
	tr := NewSafepointTracker(0, 0)
	a := tr.RegisterCurrentSafepoint(0)
	b := tr.RegisterCurrentSafepoint(0)
	if !a || !b {
		t.Fatalf("two call sites should both be new: %v %v", a, b)
	}
}

func TestTrackerDepthBoundsIdentity(t *testing.T) {
	t.Parallel()

	shallow := NewSafepointTracker(0, 1)
	a := registerFromHelper(shallow)
	b := registerFromHelper(shallow)
	if !a || b {
		t.Fatalf("depth 1 through one helper = (%v,%v), want (true,false)", a, b)
	}

	deep := NewSafepointTracker(0, 16)
	a = registerFromHelper(deep)
	b = registerFromHelper(deep)
	if !a || !b {
		t.Fatalf("depth 16 through one helper = (%v,%v), want (true,true)", a, b)
	}
}

func TestTrackerClearsWhenFull(t *testing.T) {
	t.Parallel()
	tr := NewSafepointTracker(3, 0)
	for _, fp := range []Fingerprint{"a", "b", "c"} {
		if !tr.Register(fp) {
			t.Fatalf("%q should be new", fp)
		}
	}
	if tr.Register("a") {
		t.Fatalf("known fingerprint at capacity must not clear the set")
	}
	if tr.Size() != 3 {
		t.Fatalf("size = %d, want 3", tr.Size())
	}

	if !tr.Register("d") {
		t.Fatalf("new fingerprint should register")
	}
	if tr.Size() != 1 {
		t.Fatalf("size after overflow = %d, want 1", tr.Size())
	}
	if !tr.Register("a") {
		t.Fatalf("fingerprints before the clear should be forgotten")
	}
}

func TestTrackerSizeNeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	const capacity = 8
	tr := NewSafepointTracker(capacity, 0)
	for i := 0; i < 100; i++ {
		tr.Register(FingerprintOf([]uintptr{uintptr(i)}))
		if tr.Size() > capacity {
			t.Fatalf("size %d > capacity", tr.Size())
		}
	}
	tr.Reset()
	if tr.Size() != 0 {
		t.Fatalf("size after Reset = %d", tr.Size())
	}
}

func TestFingerprintExactMatch(t *testing.T) {
	t.Parallel()
	if FingerprintOf([]uintptr{1, 2}) == FingerprintOf([]uintptr{1, 2, 0}) {
		t.Fatalf("different lengths must not match")
	}
	if FingerprintOf([]uintptr{1, 2}) != FingerprintOf([]uintptr{1, 2}) {
		t.Fatalf("equal frames must match")
	}
}
