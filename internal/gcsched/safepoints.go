package gcsched

import (
	"sync/atomic"

	"gcpacer/internal/clock"
)

// SafepointPolicy decides only when a mutator reaches a local threshold.
// It owns no goroutine: with no mutator activity nothing is ever requested.
type SafepointPolicy struct {
	cfg     *Config
	heap    heapAggregate
	clock   clock.Clock
	request RequestFunc

	lastCompletion atomic.Int64 // clock.Instant
}

func NewSafepointPolicy(cfg *Config, request RequestFunc, deps Deps) *SafepointPolicy {
	deps = deps.withDefaults()
	p := &SafepointPolicy{
		cfg:     cfg,
		heap:    heapAggregate{cfg: cfg},
		clock:   deps.Clock,
		request: request.orNop(),
	}
	p.lastCompletion.Store(int64(p.clock.Now()))
	return p
}

// UpdateFromThreadData folds td and requests a collection when the
// aggregate reached the target, or when a full interval has passed since
// the last completion. At most one request per call.
func (p *SafepointPolicy) UpdateFromThreadData(td *ThreadData) {
	if p.heap.fold(td) {
		p.request(ReasonHeap)
		return
	}
	since := p.clock.Now().Sub(clock.Instant(p.lastCompletion.Load()))
	if since >= clock.Micros(p.cfg.RegularGCIntervalMicros()) {
		p.request(ReasonTimer)
	}
}

func (p *SafepointPolicy) OnCollectionCompleted(liveSetBytes uint64) {
	p.heap.reset(liveSetBytes)
	p.lastCompletion.Store(int64(p.clock.Now()))
}

func (p *SafepointPolicy) HeapBytes() uint64 { return p.heap.load() }
