package gcsched

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"gcpacer/internal/clock"
)

type recorder struct {
	mu      sync.Mutex
	reasons []Reason
}

func (r *recorder) request(reason Reason) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func (r *recorder) last() Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return 0
	}
	return r.reasons[len(r.reasons)-1]
}

func mustConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	cfg, err := NewConfig(opts...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

// allocate sets td's pending bytes and runs the slow path directly, as a
// mutator crossing its allocation threshold would.
func allocate(p Policy, td *ThreadData, n uint64) {
	td.allocatedBytes += n
	p.UpdateFromThreadData(td)
}

func us(n int64) clock.Instant { return clock.Instant(n * int64(time.Microsecond)) }

func waitPending(t *testing.T, clk *clock.Manual, at clock.Instant) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.WaitForPending(ctx, at); err != nil {
		t.Fatalf("no timer armed for %v (pending %v): %v", time.Duration(at), clk.Pending(), err)
	}
}

func noAutoTune(target uint64) []Option {
	return []Option{
		WithAutoTune(false),
		WithTargetHeapBytes(target),
		WithHeapBounds(0, math.MaxUint64),
	}
}
