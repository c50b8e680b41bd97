package gcsched

import (
	"context"
	"math"
	"testing"
	"time"

	"gcpacer/internal/appstate"
	"gcpacer/internal/clock"
	"gcpacer/internal/eventbus"
)

func newTimerPolicy(t *testing.T, target uint64, state appstate.Source) (*TimerPolicy, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual()
	cfg := mustConfig(t, append(noAutoTune(target), WithRegularGCIntervalMicros(10))...)
	rec := &recorder{}
	p := NewTimerPolicy(cfg, rec.request, Deps{Clock: clk, State: state})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := p.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return p, clk, rec
}

func TestTimerPolicyRequestsOnInterval(t *testing.T) {
	t.Parallel()
	_, clk, rec := newTimerPolicy(t, math.MaxUint64, nil)

	waitPending(t, clk, us(10))
	clk.Advance(9 * time.Microsecond)
	if rec.count() != 0 {
		t.Fatalf("requested before the interval")
	}

	clk.Advance(time.Microsecond)
	waitPending(t, clk, us(20))
	if rec.count() != 1 || rec.last() != ReasonTimer {
		t.Fatalf("requests = %v, want one timer request", rec.reasons)
	}

	clk.Advance(10 * time.Microsecond)
	waitPending(t, clk, us(30))
	if rec.count() != 2 {
		t.Fatalf("requests = %d, want 2", rec.count())
	}
}

func TestTimerPolicyExpiryAnchorsAtFireTime(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual()
	cfg := mustConfig(t, append(noAutoTune(math.MaxUint64), WithRegularGCIntervalMicros(10))...)
	rec := &recorder{}
	p := NewTimerPolicy(cfg, rec.request, Deps{Clock: clk})

	clk.Set(us(15))
	p.onExpiry(us(10))
	if got := clock.Instant(p.anchor.Load()); got != us(10) {
		t.Fatalf("anchor = %v, want the fire instant %v", time.Duration(got), time.Duration(us(10)))
	}
	if rec.count() != 1 || rec.last() != ReasonTimer {
		t.Fatalf("requests = %v", rec.reasons)
	}
}

func TestTimerPolicyCompletionRearms(t *testing.T) {
	t.Parallel()
	p, clk, rec := newTimerPolicy(t, 10, nil)
	td := NewThreadData(p.cfg, p.UpdateFromThreadData)

	waitPending(t, clk, us(10))
	clk.Advance(5 * time.Microsecond)
	allocate(p, td, 10)
	if rec.count() != 1 || rec.last() != ReasonHeap {
		t.Fatalf("requests = %v, want one heap request", rec.reasons)
	}

	p.OnCollectionCompleted(0)
	waitPending(t, clk, us(15))

	clk.Advance(5 * time.Microsecond)
	if rec.count() != 1 {
		t.Fatalf("stale deadline fired after completion")
	}

	clk.Advance(5 * time.Microsecond)
	waitPending(t, clk, us(25))
	if rec.count() != 2 || rec.last() != ReasonTimer {
		t.Fatalf("requests = %v, want heap then timer", rec.reasons)
	}
}

func TestTimerPolicyBackgroundSkipsRequest(t *testing.T) {
	t.Parallel()
	state := appstate.NewTracker(eventbus.Nop{})
	_, clk, rec := newTimerPolicy(t, math.MaxUint64, state)

	waitPending(t, clk, us(10))
	state.Set(appstate.Background)
	clk.Advance(10 * time.Microsecond)
	waitPending(t, clk, us(20))
	if rec.count() != 0 {
		t.Fatalf("requested while in background")
	}

	state.Set(appstate.Foreground)
	if rec.count() != 0 {
		t.Fatalf("returning to foreground requested immediately")
	}
	clk.Advance(10 * time.Microsecond)
	waitPending(t, clk, us(30))
	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1 after foreground expiry", rec.count())
	}
}

func TestTimerPolicyRearmPicksUpNewInterval(t *testing.T) {
	t.Parallel()
	p, clk, rec := newTimerPolicy(t, math.MaxUint64, nil)

	waitPending(t, clk, us(10))
	p.cfg.SetRegularGCIntervalMicros(20)
	p.Rearm()
	waitPending(t, clk, us(20))

	clk.Advance(10 * time.Microsecond)
	if rec.count() != 0 {
		t.Fatalf("old deadline fired after re-arm")
	}
	clk.Advance(10 * time.Microsecond)
	waitPending(t, clk, us(40))
	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}
}

func TestTimerPolicyInfiniteIntervalNeverFires(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual()
	cfg := mustConfig(t, WithRegularGCIntervalMicros(math.MaxUint64))
	var rec recorder
	p := NewTimerPolicy(cfg, rec.request, Deps{Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	waitPending(t, clk, clock.Infinite)
	clk.Advance(24 * time.Hour)
	cancel()
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("infinite interval fired")
	}
}

func TestTimerPolicyStopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t)
	p := NewTimerPolicy(cfg, nil, Deps{Clock: clock.NewManual()})
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	p.Start(context.Background())
	p.Start(context.Background())
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
