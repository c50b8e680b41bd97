// Package appstate tracks whether the process is in the foreground or the
// background. The timer-driven GC policy suppresses timer collections while
// the process is backgrounded.
package appstate

import (
	"fmt"
	"strings"
	"sync/atomic"

	"gcpacer/internal/eventbus"
)

type State int32

const (
	Foreground State = iota
	Background
)

func (s State) String() string {
	switch s {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState accepts "foreground"/"fg" and "background"/"bg".
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "foreground", "fg":
		return Foreground, nil
	case "background", "bg":
		return Background, nil
	default:
		return Foreground, fmt.Errorf("unknown app state %q", raw)
	}
}

// Source is what the scheduler consumes.
type Source interface {
	State() State
}

// Tracker is a settable Source. The zero value is a foreground tracker.
type Tracker struct {
	state atomic.Int32
	bus   eventbus.Bus
}

// NewTracker returns a foreground tracker. bus may be nil.
func NewTracker(bus eventbus.Bus) *Tracker {
	return &Tracker{bus: bus}
}

func (t *Tracker) State() State { return State(t.state.Load()) }

// Set stores s and reports whether it changed.
func (t *Tracker) Set(s State) bool {
	old := State(t.state.Swap(int32(s)))
	if old == s {
		return false
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeAppStateChanged, Data: s.String()})
	}
	return true
}

// Always is a fixed Source, handy for tests and for hosts without a
// background notion.
type Always State

func (a Always) State() State { return State(a) }
