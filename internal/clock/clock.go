// Package clock provides the monotonic time source used by the GC scheduler.
//
// Instants are nanoseconds since the clock's origin. All arithmetic
// saturates, so an "infinite" interval never wraps into the past.
package clock

import (
	"math"
	"time"

	"go.dw1.io/safemath"
)

// Instant is a point on a Clock's monotonic timeline.
type Instant int64

// Infinite is the latest representable instant. Timers armed for it never fire.
const Infinite Instant = math.MaxInt64

// Add returns i+d, saturating at Infinite (and at math.MinInt64 for negative d).
func (i Instant) Add(d time.Duration) Instant {
	if d > 0 && int64(i) > math.MaxInt64-int64(d) {
		return Infinite
	}
	if d < 0 && int64(i) < math.MinInt64-int64(d) {
		return Instant(math.MinInt64)
	}
	return i + Instant(d)
}

// Sub returns i-j as a duration, saturating instead of overflowing.
func (i Instant) Sub(j Instant) time.Duration {
	if j < 0 && int64(i) > math.MaxInt64+int64(j) {
		return time.Duration(math.MaxInt64)
	}
	if j > 0 && int64(i) < math.MinInt64+int64(j) {
		return time.Duration(math.MinInt64)
	}
	return time.Duration(i - j)
}

// Before reports whether i is strictly earlier than j.
func (i Instant) Before(j Instant) bool { return i < j }

// Micros converts a microsecond count to a duration, saturating at the
// largest representable duration.
func Micros(us uint64) time.Duration {
	v, err := safemath.ConvertAny[int64](us)
	if err != nil || v > math.MaxInt64/int64(time.Microsecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v) * time.Microsecond
}

// Clock is the scheduler's view of time.
type Clock interface {
	Now() Instant
	// NewTimer returns a timer firing once Now() >= deadline.
	// A deadline already in the past fires immediately.
	NewTimer(deadline Instant) Timer
}

// Timer is a one-shot timer created by a Clock.
type Timer interface {
	C() <-chan Instant
	// Stop prevents the timer from firing. It reports whether it was still pending.
	Stop() bool
}

// Real is the wall clock, measured on the process monotonic clock.
type Real struct {
	origin time.Time
}

// NewReal returns a Real clock whose origin is now.
func NewReal() *Real { return &Real{origin: time.Now()} }

func (r *Real) Now() Instant { return Instant(time.Since(r.origin)) }

func (r *Real) NewTimer(deadline Instant) Timer {
	t := &realTimer{ch: make(chan Instant, 1)}
	if deadline == Infinite {
		return t
	}
	d := deadline.Sub(r.Now())
	if d < 0 {
		d = 0
	}
	t.t = time.AfterFunc(d, func() {
		select {
		case t.ch <- r.Now():
		default:
		}
	})
	return t
}

type realTimer struct {
	t  *time.Timer
	ch chan Instant
}

func (t *realTimer) C() <-chan Instant { return t.ch }

func (t *realTimer) Stop() bool {
	if t.t == nil {
		return false
	}
	return t.t.Stop()
}
