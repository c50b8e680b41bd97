package gcsched

import (
	"context"
	"fmt"
	"sync/atomic"

	"gcpacer/internal/appstate"
	"gcpacer/internal/clock"
	"gcpacer/internal/eventbus"
	"gcpacer/pkg/logx"
)

// Scheduler wires one Policy to the Tuner and to the outside world.
//
// It is the only type the host needs: mutators get ThreadData from
// NewThread, the collector calls OnCollectionCompleted, and every request
// is counted, published on the bus and forwarded to the RequestFunc given
// to New.
type Scheduler struct {
	cfg    *Config
	kind   Kind
	policy Policy
	timer  *TimerPolicy
	aggr   *AggressivePolicy
	tuner  Tuner
	clock  clock.Clock

	out RequestFunc
	log logx.Logger
	hot *logx.Sampled
	bus eventbus.Bus

	epoch    atomic.Uint64
	requests [numReasons]atomic.Uint64
	lastLive atomic.Uint64
}

type options struct {
	deps      Deps
	bus       eventbus.Bus
	logPerSec float64
	logBurst  int
}

type SchedulerOption func(*options)

func WithClock(c clock.Clock) SchedulerOption {
	return func(o *options) { o.deps.Clock = c }
}

func WithAppState(s appstate.Source) SchedulerOption {
	return func(o *options) { o.deps.State = s }
}

func WithLogger(l logx.Logger) SchedulerOption {
	return func(o *options) { o.deps.Log = l }
}

func WithBus(b eventbus.Bus) SchedulerOption {
	return func(o *options) { o.bus = b }
}

// WithTracker sizes the aggressive policy's safepoint set.
func WithTracker(capacity, depth int) SchedulerOption {
	return func(o *options) {
		o.deps.TrackerCapacity = capacity
		o.deps.TrackerDepth = depth
	}
}

// WithRequestLogRate caps per-request log lines. perSec <= 0 logs all.
func WithRequestLogRate(perSec float64, burst int) SchedulerOption {
	return func(o *options) {
		o.logPerSec = perSec
		o.logBurst = burst
	}
}

// New builds a scheduler running the policy named by kind. request may be nil.
func New(cfg *Config, kind Kind, request RequestFunc, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	o := options{logPerSec: 20, logBurst: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.deps = o.deps.withDefaults()
	if o.bus == nil {
		o.bus = eventbus.Nop{}
	}

	s := &Scheduler{
		cfg:   cfg,
		kind:  kind,
		tuner: NewTuner(cfg),
		clock: o.deps.Clock,
		out:   request.orNop(),
		log:   o.deps.Log.With(logx.String("comp", "gcsched"), logx.String("policy", string(kind))),
		bus:   o.bus,
	}
	s.hot = logx.NewSampled(s.log, o.logPerSec, o.logBurst)
	o.deps.Log = s.log

	switch kind {
	case KindSafepoint:
		s.policy = NewSafepointPolicy(cfg, s.requestCollection, o.deps)
	case KindTimer:
		s.timer = NewTimerPolicy(cfg, s.requestCollection, o.deps)
		s.policy = s.timer
	case KindAggressive:
		s.aggr = NewAggressivePolicy(cfg, s.requestCollection, o.deps)
		s.policy = s.aggr
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, kind)
	}
	return s, nil
}

func (s *Scheduler) Kind() Kind         { return s.kind }
func (s *Scheduler) Config() *Config    { return s.cfg }
func (s *Scheduler) Policy() Policy     { return s.policy }
func (s *Scheduler) Clock() clock.Clock { return s.clock }

// NewThread returns an accumulator whose slow path is the active policy.
// The caller's goroutine owns it.
func (s *Scheduler) NewThread() *ThreadData {
	return NewThreadData(s.cfg, s.policy.UpdateFromThreadData)
}

// Epoch increments once per completed collection. Mutators compare it to
// reset their ThreadData on their own goroutine.
func (s *Scheduler) Epoch() uint64 { return s.epoch.Load() }

// RequestCollection forwards an out-of-band request.
func (s *Scheduler) RequestCollection() { s.requestCollection(ReasonManual) }

func (s *Scheduler) requestCollection(r Reason) {
	if int(r) < numReasons {
		s.requests[r].Add(1)
	}
	s.hot.Debug("gc requested",
		logx.String("reason", r.String()),
		logx.Uint64("heap_bytes", s.policy.HeapBytes()),
		logx.Uint64("target_bytes", s.cfg.TargetHeapBytes()),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeGCRequested, Data: r.String()})
	s.out(r)
}

// Completion is the payload of a gc.completed event.
type Completion struct {
	Epoch        uint64 `json:"epoch"`
	LiveSetBytes uint64 `json:"live_set_bytes"`
	TargetBefore uint64 `json:"target_before"`
	TargetAfter  uint64 `json:"target_after"`
}

// OnCollectionCompleted retunes the target, then lets the policy reset its
// aggregate and timer. Per-thread counters are reset by their owners once
// they observe the new Epoch.
func (s *Scheduler) OnCollectionCompleted(liveSetBytes uint64) Completion {
	prev, next, tuned := s.tuner.OnCollectionCompleted(liveSetBytes)
	s.policy.OnCollectionCompleted(liveSetBytes)
	s.lastLive.Store(liveSetBytes)
	c := Completion{
		Epoch:        s.epoch.Add(1),
		LiveSetBytes: liveSetBytes,
		TargetBefore: prev,
		TargetAfter:  next,
	}

	if tuned && prev != next {
		s.log.Debug("target heap retuned",
			logx.Uint64("live_set_bytes", liveSetBytes),
			logx.Uint64("prev", prev),
			logx.Uint64("next", next),
		)
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTargetChanged, Data: c})
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeGCCompleted, Data: c})
	return c
}

// Reconfigure stores v and re-arms the timer so a new interval applies to
// the pending deadline.
func (s *Scheduler) Reconfigure(v Values) error {
	if s.kind == KindAggressive {
		v.SafepointThreshold = 1
		v.AllocationThresholdBytes = 1
	}
	if err := s.cfg.Update(v); err != nil {
		return err
	}
	if s.timer != nil {
		s.timer.Rearm()
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: s.cfg.Snapshot()})
	return nil
}

// Run blocks until ctx is done, driving the timer loop when the policy has one.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.timer != nil {
		return s.timer.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

// Start launches the timer loop, if any, on its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s.timer != nil {
		s.timer.Start(ctx)
	}
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.timer != nil {
		return s.timer.Stop(ctx)
	}
	return nil
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Policy            Kind              `json:"policy"`
	Epoch             uint64            `json:"epoch"`
	HeapBytes         uint64            `json:"heap_bytes"`
	TargetHeapBytes   uint64            `json:"target_heap_bytes"`
	LastLiveSetBytes  uint64            `json:"last_live_set_bytes"`
	Requests          map[string]uint64 `json:"requests"`
	TrackedSafepoints int               `json:"tracked_safepoints,omitempty"`
	SuppressedLogs    uint64            `json:"suppressed_logs"`
	Config            Values            `json:"config"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Policy:           s.kind,
		Epoch:            s.Epoch(),
		HeapBytes:        s.policy.HeapBytes(),
		TargetHeapBytes:  s.cfg.TargetHeapBytes(),
		LastLiveSetBytes: s.lastLive.Load(),
		Requests:         make(map[string]uint64, numReasons-1),
		SuppressedLogs:   s.hot.Suppressed(),
		Config:           s.cfg.Snapshot(),
	}
	for r := ReasonHeap; int(r) < numReasons; r++ {
		st.Requests[r.String()] = s.requests[r].Load()
	}
	if s.aggr != nil {
		st.TrackedSafepoints = s.aggr.Tracker().Size()
	}
	return st
}

// TotalRequests sums requests across all reasons.
func (st Stats) TotalRequests() uint64 {
	var n uint64
	for _, v := range st.Requests {
		n += v
	}
	return n
}
