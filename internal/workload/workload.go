// Package workload runs synthetic mutators against a scheduler.
//
// Each mutator goroutine owns one ThreadData: it allocates fixed-size
// buffers, keeps a bounded window of them reachable, reports every
// allocation and safepoint crossing, and resets its counters when it sees
// the scheduler's epoch move.
package workload

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"gcpacer/internal/gcsched"
	logx "gcpacer/pkg/logx"

	"go.dw1.io/safemath"
	"golang.org/x/time/rate"
)

const maxRetainSlots = 1 << 20

// Scheduler is what a mutator needs from the scheduler.
type Scheduler interface {
	NewThread() *gcsched.ThreadData
	Epoch() uint64
}

type Options struct {
	Mutators        int
	AllocSize       uint64
	AllocsPerSec    float64 // per mutator; 0 means unpaced
	SafepointWeight uint64
	Retain          uint64 // bytes kept reachable per mutator
	Log             logx.Logger
}

func (o Options) validate() error {
	if o.Mutators <= 0 {
		return fmt.Errorf("workload: mutators must be > 0, got %d", o.Mutators)
	}
	if o.AllocSize == 0 || o.AllocSize > math.MaxInt32 {
		return fmt.Errorf("workload: alloc_size out of range: %d", o.AllocSize)
	}
	if o.AllocsPerSec < 0 || math.IsNaN(o.AllocsPerSec) {
		return fmt.Errorf("workload: allocs_per_sec must be >= 0")
	}
	return nil
}

type Workload struct {
	sched  Scheduler
	opts   Options
	log    logx.Logger
	slots  int
	limits []*rate.Limiter

	allocs     atomic.Uint64
	bytes      atomic.Uint64
	safepoints atomic.Uint64
	resets     atomic.Uint64
	running    atomic.Int64 // mutators past their first epoch read
}

func New(sched Scheduler, opts Options) (*Workload, error) {
	if opts.SafepointWeight == 0 {
		opts.SafepointWeight = 1
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	slots, err := safemath.ConvertAny[int](opts.Retain / opts.AllocSize)
	if err != nil || slots > maxRetainSlots {
		slots = maxRetainSlots
	}
	w := &Workload{
		sched: sched,
		opts:  opts,
		log:   opts.Log.With(logx.String("comp", "workload")),
		slots: max(slots, 1),
	}
	for i := 0; i < opts.Mutators; i++ {
		w.limits = append(w.limits, rate.NewLimiter(limitFor(opts.AllocsPerSec), 1))
	}
	return w, nil
}

func limitFor(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// SetRate changes the per-mutator allocation rate of running mutators.
func (w *Workload) SetRate(perSec float64) {
	for _, l := range w.limits {
		l.SetLimit(limitFor(perSec))
	}
}

// Mutators returns the number of mutator goroutines Run starts.
func (w *Workload) Mutators() int { return len(w.limits) }

// Run starts every mutator and blocks until ctx is done and all have
// returned.
func (w *Workload) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	w.log.Info("workload started",
		logx.Int("mutators", len(w.limits)),
		logx.Uint64("alloc_size", w.opts.AllocSize),
		logx.Int("retain_slots", w.slots),
	)
	for i := range w.limits {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.mutate(ctx, i)
		}()
	}
	wg.Wait()
	w.log.Info("workload stopped", logx.Uint64("allocs", w.allocs.Load()))
	return nil
}

// RunMutator runs mutator i on the calling goroutine. Run uses it; hosts
// that supervise goroutines individually can call it directly.
func (w *Workload) RunMutator(ctx context.Context, i int) error {
	if i < 0 || i >= len(w.limits) {
		return fmt.Errorf("workload: no mutator %d", i)
	}
	w.mutate(ctx, i)
	return nil
}

// MutatorName is the goroutine name for mutator i.
func MutatorName(i int) string { return "workload.mutator." + strconv.Itoa(i) }

func (w *Workload) mutate(ctx context.Context, i int) {
	var (
		lim    = w.limits[i]
		size   = w.opts.AllocSize
		weight = w.opts.SafepointWeight
		td     = w.sched.NewThread()
		epoch  = w.sched.Epoch()
		window = make([][]byte, w.slots)
	)
	w.running.Add(1)
	defer w.running.Add(-1)
	for n := 0; ; n++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if e := w.sched.Epoch(); e != epoch {
			td.OnCollectionCompleted()
			epoch = e
			w.resets.Add(1)
		}

		buf := make([]byte, size)
		buf[len(buf)-1] = byte(n)
		window[n%len(window)] = buf

		td.OnAllocation(size)
		td.OnSafepoint(weight)
		w.allocs.Add(1)
		w.bytes.Add(size)
		w.safepoints.Add(weight)
	}
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Mutators       int     `json:"mutators"`
	Running        int     `json:"running"`
	Allocs         uint64  `json:"allocs"`
	AllocatedBytes uint64  `json:"allocated_bytes"`
	Safepoints     uint64  `json:"safepoints"`
	EpochResets    uint64  `json:"epoch_resets"`
	RatePerMutator float64 `json:"rate_per_mutator"`
}

func (w *Workload) Stats() Stats {
	st := Stats{
		Mutators:       len(w.limits),
		Running:        int(w.running.Load()),
		Allocs:         w.allocs.Load(),
		AllocatedBytes: w.bytes.Load(),
		Safepoints:     w.safepoints.Load(),
		EpochResets:    w.resets.Load(),
	}
	if len(w.limits) > 0 {
		if l := w.limits[0].Limit(); l != rate.Inf {
			st.RatePerMutator = float64(l)
		}
	}
	return st
}
