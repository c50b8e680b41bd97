package gcsched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gcpacer/internal/appstate"
	"gcpacer/internal/clock"
	"gcpacer/pkg/logx"
)

// TimerPolicy requests a collection on heap growth like SafepointPolicy,
// and additionally from a background loop once the regular interval has
// elapsed since the last completion.
//
// While the application is in the background an expiry only re-arms the
// timer. Returning to the foreground does not trigger a catch-up request.
type TimerPolicy struct {
	cfg     *Config
	heap    heapAggregate
	clock   clock.Clock
	state   appstate.Source
	request RequestFunc
	log     logx.Logger

	anchor atomic.Int64 // clock.Instant the next deadline is measured from
	rearm  chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewTimerPolicy(cfg *Config, request RequestFunc, deps Deps) *TimerPolicy {
	deps = deps.withDefaults()
	p := &TimerPolicy{
		cfg:     cfg,
		heap:    heapAggregate{cfg: cfg},
		clock:   deps.Clock,
		state:   deps.State,
		request: request.orNop(),
		log:     deps.Log.With(logx.String("policy", string(KindTimer))),
		rearm:   make(chan struct{}, 1),
	}
	p.anchor.Store(int64(p.clock.Now()))
	return p
}

func (p *TimerPolicy) UpdateFromThreadData(td *ThreadData) {
	if p.heap.fold(td) {
		p.request(ReasonHeap)
	}
}

// OnCollectionCompleted resets the aggregate and re-arms the timer one full
// interval from now.
func (p *TimerPolicy) OnCollectionCompleted(liveSetBytes uint64) {
	p.heap.reset(liveSetBytes)
	p.anchor.Store(int64(p.clock.Now()))
	p.Rearm()
}

func (p *TimerPolicy) HeapBytes() uint64 { return p.heap.load() }

// Rearm recomputes the pending deadline. Call it after changing the interval.
func (p *TimerPolicy) Rearm() {
	select {
	case p.rearm <- struct{}{}:
	default:
	}
}

// Run drives the timer until ctx is done. It returns nil on cancellation.
func (p *TimerPolicy) Run(ctx context.Context) error {
	for {
		interval := clock.Micros(p.cfg.RegularGCIntervalMicros())
		deadline := clock.Instant(p.anchor.Load()).Add(interval)
		t := p.clock.NewTimer(deadline)

		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-p.rearm:
			t.Stop()
		case at := <-t.C():
			p.onExpiry(at)
		}
	}
}

// onExpiry re-arms from the instant the timer fired, so a late wakeup does
// not stretch the next interval.
func (p *TimerPolicy) onExpiry(at clock.Instant) {
	p.anchor.Store(int64(at))
	if p.state.State() == appstate.Background {
		p.log.Trace("timer expired in background; re-armed")
		return
	}
	p.request(ReasonTimer)
}

// Start runs the loop on its own goroutine. It is a no-op when already running.
func (p *TimerPolicy) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	done := p.done
	go func() {
		defer close(done)
		if err := p.Run(runCtx); err != nil {
			p.log.Warn("timer loop stopped", logx.Err(err))
		}
	}()
}

// Stop cancels the loop and waits for it to exit or ctx to end.
func (p *TimerPolicy) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
