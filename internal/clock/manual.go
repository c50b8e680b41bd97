package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a Clock that only moves when told to.
//
// Timers fire synchronously from Advance/Set. WaitForPending lets a test
// block until a background loop has armed a timer for a given deadline,
// which is how tests synchronize with the timer policy's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     Instant
	timers  map[*manualTimer]struct{}
	changed chan struct{}
}

// NewManual returns a manual clock starting at instant 0.
func NewManual() *Manual {
	return &Manual{
		timers:  map[*manualTimer]struct{}{},
		changed: make(chan struct{}),
	}
}

func (m *Manual) Now() Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) NewTimer(deadline Instant) Timer {
	t := &manualTimer{m: m, deadline: deadline, ch: make(chan Instant, 1)}
	m.mu.Lock()
	if deadline <= m.now {
		t.ch <- m.now
	} else {
		m.timers[t] = struct{}{}
	}
	m.notifyLocked()
	m.mu.Unlock()
	return t
}

// Advance moves the clock forward by d and fires every due timer.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.fireLocked()
	m.mu.Unlock()
}

// Set moves the clock to t (never backwards) and fires every due timer.
func (m *Manual) Set(t Instant) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.fireLocked()
	m.mu.Unlock()
}

// Pending returns the sorted deadlines of armed timers.
func (m *Manual) Pending() []Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Instant, 0, len(m.timers))
	for t := range m.timers {
		out = append(out, t.deadline)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WaitForPending blocks until a timer armed for exactly deadline is pending,
// or ctx is done.
func (m *Manual) WaitForPending(ctx context.Context, deadline Instant) error {
	for {
		m.mu.Lock()
		for t := range m.timers {
			if t.deadline == deadline {
				m.mu.Unlock()
				return nil
			}
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manual) fireLocked() {
	for t := range m.timers {
		if t.deadline <= m.now {
			delete(m.timers, t)
			t.ch <- m.now
		}
	}
	m.notifyLocked()
}

func (m *Manual) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

type manualTimer struct {
	m        *Manual
	deadline Instant
	ch       chan Instant
}

func (t *manualTimer) C() <-chan Instant { return t.ch }

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.timers[t]; !ok {
		return false
	}
	delete(t.m.timers, t)
	t.m.notifyLocked()
	return true
}
