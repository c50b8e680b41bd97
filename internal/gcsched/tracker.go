package gcsched

import (
	"encoding/binary"
	"runtime"
	"sync"
)

const (
	DefaultTrackerCapacity = 10_000
	DefaultTrackerDepth    = 16

	maxTrackerDepth = 64
)

// Fingerprint identifies a safepoint by the call stack that reached it.
// Two fingerprints are equal only if every captured frame is equal.
type Fingerprint string

// FingerprintOf packs program counters into a comparable key.
func FingerprintOf(pcs []uintptr) Fingerprint {
	buf := make([]byte, 8*len(pcs))
	for i, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(pc))
	}
	return Fingerprint(buf)
}

// SafepointTracker remembers which safepoints have been seen, up to a fixed
// capacity. A new fingerprint arriving at capacity forgets everything first.
type SafepointTracker struct {
	capacity int
	depth    int

	mu   sync.Mutex
	seen map[Fingerprint]struct{}
}

// NewSafepointTracker returns a tracker holding at most capacity fingerprints
// of depth frames each. Non-positive arguments select the defaults.
func NewSafepointTracker(capacity, depth int) *SafepointTracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	if depth <= 0 {
		depth = DefaultTrackerDepth
	}
	if depth > maxTrackerDepth {
		depth = maxTrackerDepth
	}
	return &SafepointTracker{
		capacity: capacity,
		depth:    depth,
		seen:     make(map[Fingerprint]struct{}, capacity),
	}
}

// RegisterCurrentSafepoint fingerprints the caller's stack and registers it.
// skip drops that many additional frames above the immediate caller.
// It reports true iff the fingerprint was not already present.
func (t *SafepointTracker) RegisterCurrentSafepoint(skip int) bool {
	var pcs [maxTrackerDepth]uintptr
	if skip < 0 {
		skip = 0
	}
	n := runtime.Callers(2+skip, pcs[:t.depth])
	return t.Register(FingerprintOf(pcs[:n]))
}

// Register records fp and reports whether it was new.
func (t *SafepointTracker) Register(fp Fingerprint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[fp]; ok {
		return false
	}
	if len(t.seen) >= t.capacity {
		clear(t.seen)
	}
	t.seen[fp] = struct{}{}
	return true
}

func (t *SafepointTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

func (t *SafepointTracker) Capacity() int { return t.capacity }
func (t *SafepointTracker) Depth() int    { return t.depth }

// Reset forgets every fingerprint.
func (t *SafepointTracker) Reset() {
	t.mu.Lock()
	clear(t.seen)
	t.mu.Unlock()
}
