package gcsched

import (
	"fmt"
	"strings"
	"sync/atomic"

	"gcpacer/internal/appstate"
	"gcpacer/internal/clock"
	"gcpacer/pkg/logx"
)

// Reason says which trigger produced a collection request.
type Reason uint8

const (
	ReasonHeap      Reason = iota + 1 // aggregate heap reached the target
	ReasonTimer                       // regular interval elapsed
	ReasonSafepoint                   // first visit to a safepoint (aggressive)
	ReasonManual

	numReasons = int(ReasonManual) + 1
)

func (r Reason) String() string {
	switch r {
	case ReasonHeap:
		return "heap"
	case ReasonTimer:
		return "timer"
	case ReasonSafepoint:
		return "safepoint"
	case ReasonManual:
		return "manual"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// RequestFunc asks the collector for a collection. It must not block on the
// collection itself: it is called from mutator slow paths.
type RequestFunc func(Reason)

func (f RequestFunc) orNop() RequestFunc {
	if f == nil {
		return func(Reason) {}
	}
	return f
}

// Policy decides when a collection is requested.
type Policy interface {
	// UpdateFromThreadData is the slow path of every ThreadData. It runs on
	// the thread's owning goroutine.
	UpdateFromThreadData(td *ThreadData)
	// OnCollectionCompleted is called once per finished collection with the
	// surviving heap size.
	OnCollectionCompleted(liveSetBytes uint64)
	// HeapBytes is the current aggregate.
	HeapBytes() uint64
}

// Kind selects a Policy.
type Kind string

const (
	KindSafepoint  Kind = "safepoint"
	KindTimer      Kind = "timer"
	KindAggressive Kind = "aggressive"
)

// ParseKind accepts the canonical names plus a few aliases.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "safepoint", "safepoints", "on_safepoints":
		return KindSafepoint, nil
	case "", "timer", "with_timer":
		return KindTimer, nil
	case "aggressive":
		return KindAggressive, nil
	default:
		return "", fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, raw)
	}
}

// Deps are the collaborators a policy may need. Zero fields get defaults.
type Deps struct {
	Clock clock.Clock
	State appstate.Source
	Log   logx.Logger

	TrackerCapacity int
	TrackerDepth    int
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.NewReal()
	}
	if d.State == nil {
		d.State = appstate.Always(appstate.Foreground)
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return d
}

// heapAggregate is the process-wide byte total shared by all policies.
// After a collection it holds the live set plus what was folded since.
type heapAggregate struct {
	cfg   *Config
	bytes atomic.Uint64
}

// fold moves td's bytes into the aggregate and reports whether the total
// has reached the current target.
func (h *heapAggregate) fold(td *ThreadData) bool {
	n := td.takeAllocatedBytes()
	total := h.bytes.Add(n)
	return total >= h.cfg.TargetHeapBytes()
}

func (h *heapAggregate) reset(liveSetBytes uint64) { h.bytes.Store(liveSetBytes) }

func (h *heapAggregate) load() uint64 { return h.bytes.Load() }
