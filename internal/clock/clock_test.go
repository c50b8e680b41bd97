package clock

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestInstantSaturates(t *testing.T) {
	t.Parallel()
	if got := Instant(10).Add(time.Duration(math.MaxInt64)); got != Infinite {
		t.Fatalf("Add overflow = %d, want Infinite", got)
	}
	if got := Infinite.Add(time.Second); got != Infinite {
		t.Fatalf("Infinite+1s = %d, want Infinite", got)
	}
	if got := Instant(math.MinInt64 + 1).Add(-time.Hour); got != Instant(math.MinInt64) {
		t.Fatalf("Add underflow = %d", got)
	}
	if got := Infinite.Sub(Instant(-5)); got != time.Duration(math.MaxInt64) {
		t.Fatalf("Sub overflow = %d", got)
	}
	if got := Instant(30).Sub(Instant(10)); got != 20 {
		t.Fatalf("Sub = %d, want 20", got)
	}
}

func TestMicros(t *testing.T) {
	t.Parallel()
	if got := Micros(10); got != 10*time.Microsecond {
		t.Fatalf("Micros(10) = %v", got)
	}
	if got := Micros(math.MaxUint64); got != time.Duration(math.MaxInt64) {
		t.Fatalf("Micros(max) = %v, want saturated", got)
	}
	if got := Micros(math.MaxInt64 / 1000 * 2); got != time.Duration(math.MaxInt64) {
		t.Fatalf("Micros(large) = %v, want saturated", got)
	}
}

func TestManualTimerFiresOnAdvance(t *testing.T) {
	t.Parallel()
	m := NewManual()
	tm := m.NewTimer(Instant(10 * time.Microsecond))

	m.Advance(5 * time.Microsecond)
	select {
	case <-tm.C():
		t.Fatalf("timer fired early")
	default:
	}

	m.Advance(5 * time.Microsecond)
	select {
	case at := <-tm.C():
		if at != Instant(10*time.Microsecond) {
			t.Fatalf("fired at %d", at)
		}
	default:
		t.Fatalf("timer did not fire")
	}
	if len(m.Pending()) != 0 {
		t.Fatalf("fired timer still pending")
	}
}

func TestManualPastDeadlineFiresImmediately(t *testing.T) {
	t.Parallel()
	m := NewManual()
	m.Advance(time.Second)
	tm := m.NewTimer(Instant(0))
	select {
	case <-tm.C():
	default:
		t.Fatalf("past deadline should fire immediately")
	}
}

func TestManualStopAndInfinite(t *testing.T) {
	t.Parallel()
	m := NewManual()
	tm := m.NewTimer(Instant(100))
	if !tm.Stop() {
		t.Fatalf("Stop should report pending timer")
	}
	if tm.Stop() {
		t.Fatalf("second Stop should report false")
	}
	inf := m.NewTimer(Infinite)
	m.Advance(time.Duration(math.MaxInt64))
	select {
	case <-inf.C():
		// Now saturated at Infinite, so the timer is due.
	default:
		t.Fatalf("timer at Infinite should fire once the clock saturates")
	}
}

func TestManualWaitForPending(t *testing.T) {
	t.Parallel()
	m := NewManual()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.NewTimer(Instant(42))
	}()
	if err := m.WaitForPending(ctx, Instant(42)); err != nil {
		t.Fatalf("WaitForPending: %v", err)
	}

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := m.WaitForPending(short, Instant(7)); err == nil {
		t.Fatalf("expected timeout for deadline that is never armed")
	}
}

func TestRealTimer(t *testing.T) {
	t.Parallel()
	r := NewReal()
	tm := r.NewTimer(r.Now().Add(5 * time.Millisecond))
	select {
	case <-tm.C():
	case <-time.After(2 * time.Second):
		t.Fatalf("real timer did not fire")
	}
	if r.NewTimer(Infinite).Stop() {
		t.Fatalf("infinite real timer is never armed")
	}
}
