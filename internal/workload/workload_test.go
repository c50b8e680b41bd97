package workload

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gcpacer/internal/appstate"
	"gcpacer/internal/gcsched"
)

func newScheduler(t *testing.T, requests *atomic.Int64) *gcsched.Scheduler {
	t.Helper()
	cfg, err := gcsched.NewConfig(
		gcsched.WithTargetHeapBytes(64<<10),
		gcsched.WithAllocationThresholdBytes(4<<10),
		gcsched.WithAutoTune(false),
		gcsched.WithRegularGCIntervalMicros(3600_000_000),
	)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	s, err := gcsched.New(cfg, gcsched.KindSafepoint, func(gcsched.Reason) { requests.Add(1) },
		gcsched.WithAppState(appstate.Always(appstate.Foreground)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	s := newScheduler(t, &n)
	for _, o := range []Options{
		{Mutators: 0, AllocSize: 1},
		{Mutators: 1, AllocSize: 0},
		{Mutators: 1, AllocSize: 1, AllocsPerSec: -1},
	} {
		if _, err := New(s, o); err == nil {
			t.Fatalf("options %+v accepted", o)
		}
	}
}

func TestMutatorsDriveRequestsAndResetOnEpoch(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	s := newScheduler(t, &requests)
	w, err := New(s, Options{Mutators: 3, AllocSize: 1 << 10, Retain: 16 << 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("workload did not stop")
		}
	}()

	// A mutator that starts after the completion sees the new epoch as its
	// first one and has nothing to reset.
	eventually(t, "every mutator to start", func() bool { return w.Stats().Running == 3 })
	eventually(t, "a heap request", func() bool { return requests.Load() > 0 })
	s.OnCollectionCompleted(0)
	eventually(t, "every mutator to reset", func() bool { return w.Stats().EpochResets >= 3 })

	st := w.Stats()
	if st.Mutators != 3 || st.Running != 3 || st.Allocs == 0 || st.AllocatedBytes == 0 || st.Safepoints == 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSetRate(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	w, err := New(newScheduler(t, &n), Options{Mutators: 2, AllocSize: 64, AllocsPerSec: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := w.Stats().RatePerMutator; got != 5 {
		t.Fatalf("rate = %v", got)
	}
	w.SetRate(0)
	if got := w.Stats().RatePerMutator; got != 0 {
		t.Fatalf("unpaced rate = %v", got)
	}
	w.SetRate(250)
	if got := w.Stats().RatePerMutator; got != 250 {
		t.Fatalf("rate = %v", got)
	}
}

func TestRunMutatorBounds(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	w, err := New(newScheduler(t, &n), Options{Mutators: 1, AllocSize: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.RunMutator(context.Background(), 1); err == nil {
		t.Fatalf("out of range mutator accepted")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.RunMutator(ctx, 0); err != nil {
		t.Fatalf("RunMutator = %v", err)
	}
}
