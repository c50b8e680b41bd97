// Package collector performs the collections the scheduler asks for.
//
// Requests are coalesced: any number of requests that arrive while a
// collection is pending or running produce one collection. A single worker
// goroutine runs them, so completions reach the scheduler one at a time.
package collector

import (
	"context"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync/atomic"
	"time"

	"gcpacer/internal/gcsched"
	"gcpacer/internal/storage"
	logx "gcpacer/pkg/logx"
)

const (
	noReason      = -1
	appendTimeout = 2 * time.Second
	liveMetric    = "/gc/heap/live:bytes"
)

// Completer receives the live set of each finished collection.
type Completer interface {
	OnCollectionCompleted(liveSetBytes uint64) gcsched.Completion
	Kind() gcsched.Kind
}

type Options struct {
	MinGap           time.Duration
	KeepRuntimePacer bool
	Store            storage.Store // nil disables the journal
	Log              logx.Logger
	RunID            string // stamped on journal records

	// GC and LiveBytes default to runtime.GC and the runtime's live heap
	// metric. Tests replace them.
	GC        func()
	LiveBytes func() uint64
}

type Collector struct {
	sched Completer
	store storage.Store
	runID string
	log   logx.Logger
	keep  bool
	gc    func()
	live  func() uint64

	minGap  atomic.Int64
	pending atomic.Int32 // gcsched.Reason of the first queued request, or noReason
	wake    chan struct{}
	running atomic.Bool

	collections atomic.Uint64
	coalesced   atomic.Uint64
	journalErrs atomic.Uint64
	lastPause   atomic.Int64
	totalPause  atomic.Int64
	lastAt      atomic.Int64 // unix nano
}

func New(sched Completer, opts Options) *Collector {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.GC == nil {
		opts.GC = runtime.GC
	}
	if opts.LiveBytes == nil {
		opts.LiveBytes = readLiveBytes
	}
	c := &Collector{
		sched: sched,
		store: opts.Store,
		runID: opts.RunID,
		log:   opts.Log.With(logx.String("comp", "collector")),
		keep:  opts.KeepRuntimePacer,
		gc:    opts.GC,
		live:  opts.LiveBytes,
		wake:  make(chan struct{}, 1),
	}
	c.pending.Store(noReason)
	c.SetMinGap(opts.MinGap)
	return c
}

// SetMinGap applies a new minimum spacing between collections.
func (c *Collector) SetMinGap(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.minGap.Store(int64(d))
}

// Request queues a collection. It never blocks and is safe to call from the
// scheduler's request path on any goroutine.
func (c *Collector) Request(r gcsched.Reason) {
	if !c.pending.CompareAndSwap(noReason, int32(r)) {
		c.coalesced.Add(1)
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run executes queued collections until ctx is done. Unless the runtime
// pacer is kept, GOGC is switched off for the duration so only the
// scheduler triggers collections.
func (c *Collector) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	defer c.running.Store(false)

	if !c.keep {
		prev := debug.SetGCPercent(-1)
		c.log.Info("runtime gc pacer disabled", logx.Int("prev_gc_percent", prev))
		defer func() {
			debug.SetGCPercent(prev)
			c.log.Info("runtime gc pacer restored", logx.Int("gc_percent", prev))
		}()
	}

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		}

		if gap := time.Duration(c.minGap.Load()); gap > 0 && !last.IsZero() {
			if wait := gap - time.Since(last); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
		}

		r := c.pending.Swap(noReason)
		if r == noReason {
			continue
		}
		last = time.Now()
		c.collect(ctx, gcsched.Reason(r), last)
	}
}

func (c *Collector) collect(ctx context.Context, reason gcsched.Reason, start time.Time) {
	c.gc()
	pause := time.Since(start)
	live := c.live()

	c.collections.Add(1)
	c.lastPause.Store(int64(pause))
	c.totalPause.Add(int64(pause))
	c.lastAt.Store(start.UnixNano())
	done := c.sched.OnCollectionCompleted(live)

	c.log.Debug("collection completed",
		logx.String("reason", reason.String()),
		logx.Uint64("epoch", done.Epoch),
		logx.Uint64("live_set_bytes", live),
		logx.Uint64("target_bytes", done.TargetAfter),
		logx.Duration("pause", pause),
	)

	if c.store == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	err := c.store.AppendCollection(actx, storage.CollectionRecord{
		At:           start,
		Run:          c.runID,
		Epoch:        done.Epoch,
		Policy:       string(c.sched.Kind()),
		Reason:       reason.String(),
		LiveSetBytes: live,
		TargetBefore: done.TargetBefore,
		TargetAfter:  done.TargetAfter,
		Pause:        pause,
	})
	if err != nil {
		c.journalErrs.Add(1)
		c.log.Warn("journal append failed", logx.Err(err))
	}
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Collections   uint64        `json:"collections"`
	Coalesced     uint64        `json:"coalesced"`
	JournalErrors uint64        `json:"journal_errors"`
	LastPause     time.Duration `json:"last_pause_ns"`
	TotalPause    time.Duration `json:"total_pause_ns"`
	LastAt        time.Time     `json:"last_at,omitzero"`
	MinGap        time.Duration `json:"min_gap_ns"`
	Pending       bool          `json:"pending"`
}

func (c *Collector) Stats() Stats {
	st := Stats{
		Collections:   c.collections.Load(),
		Coalesced:     c.coalesced.Load(),
		JournalErrors: c.journalErrs.Load(),
		LastPause:     time.Duration(c.lastPause.Load()),
		TotalPause:    time.Duration(c.totalPause.Load()),
		MinGap:        time.Duration(c.minGap.Load()),
		Pending:       c.pending.Load() != noReason,
	}
	if ns := c.lastAt.Load(); ns != 0 {
		st.LastAt = time.Unix(0, ns)
	}
	return st
}

func readLiveBytes() uint64 {
	s := []metrics.Sample{{Name: liveMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() == metrics.KindUint64 {
		return s[0].Value.Uint64()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
