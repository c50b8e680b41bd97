package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gcpacer/internal/appstate"
	"gcpacer/internal/collector"
	"gcpacer/internal/config"
	"gcpacer/internal/eventbus"
	"gcpacer/internal/gcsched"
	"gcpacer/internal/observability/debugsrv"
	rtsup "gcpacer/internal/runtime/supervisor"
	"gcpacer/internal/storage"
	"gcpacer/internal/workload"
	logx "gcpacer/pkg/logx"

	"github.com/google/uuid"
)

// App hosts one scheduler together with the collector that serves its
// requests, the optional synthetic workload, and the ambient services
// (config reload, debug server, reports, systemd notify).
type App struct {
	cfgPath string
	runID   string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tracker *appstate.Tracker
	sched   *gcsched.Scheduler
	coll    *collector.Collector
	work    *workload.Workload
	debug   *debugsrv.Service
	report  *reporter
	sd      *sdNotifier
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("run", runID[:8]))

	bus := eventbus.New()
	tracker := appstate.NewTracker(bus)
	if raw := strings.TrimSpace(cfg.Scheduler.AppState); raw != "" {
		st, err := appstate.ParseState(raw)
		if err != nil {
			return nil, fmt.Errorf("scheduler.app_state: %w", err)
		}
		tracker.Set(st)
	}

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a := &App{
		cfgPath: cfgPath,
		runID:   runID,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		tracker: tracker,
		sd:      newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	if err := a.buildScheduler(cfg, log); err != nil {
		closeStore()
		return nil, err
	}

	if cfg.Workload.Enabled {
		opts := mapWorkloadOptions(cfg)
		opts.Log = log
		w, err := workload.New(a.sched, opts)
		if err != nil {
			closeStore()
			return nil, err
		}
		a.work = w
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.debug = debugsrv.New(dcfg, debugsrv.Sources{
		Scheduler: a.sched,
		Collector: a.coll,
		Workload:  a.work,
		AppState:  tracker,
		Store:     store,
		RunID:     runID,
	}, log)

	a.report = newReporter(log.With(logx.String("comp", "report")), a.summarize, a.sd.Status)
	return a, nil
}

// buildScheduler wires the scheduler to the collector. The two reference
// each other: requests flow scheduler to collector, completions flow back.
func (a *App) buildScheduler(cfg *config.Config, log logx.Logger) error {
	kind, err := cfg.Scheduler.Kind()
	if err != nil {
		return err
	}
	vals, err := cfg.Scheduler.SchedulerValues()
	if err != nil {
		return err
	}
	gcfg, err := gcsched.NewConfigFrom(vals)
	if err != nil {
		return err
	}

	var coll *collector.Collector
	sched, err := gcsched.New(gcfg, kind,
		func(r gcsched.Reason) { coll.Request(r) },
		gcsched.WithLogger(log),
		gcsched.WithAppState(a.tracker),
		gcsched.WithBus(a.bus),
		gcsched.WithTracker(cfg.Scheduler.TrackerCapacity, cfg.Scheduler.TrackerDepth),
		gcsched.WithRequestLogRate(cfg.Scheduler.LogRate(), 5),
	)
	if err != nil {
		return err
	}

	copts, err := mapCollectorOptions(cfg)
	if err != nil {
		return err
	}
	copts.Store = a.store
	copts.Log = log
	copts.RunID = a.runID
	coll = collector.New(sched, copts)

	a.sched = sched
	a.coll = coll
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Scheduler() *gcsched.Scheduler { return a.sched }
func (a *App) Collector() *collector.Collector { return a.coll }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.debug.SetSupervisor(a.sup)

	// Transactional reload: reject before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		if _, err := mapCollectorOptions(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if cfg.Workload.Enabled && a.work == nil {
			// Validation only; enabling still needs a restart.
			opts := mapWorkloadOptions(cfg)
			if _, err := workload.New(a.sched, opts); err != nil {
				return err
			}
		}
		return nil
	})

	a.sup.Go("collector", a.coll.Run)
	a.sup.Go("gcsched", a.sched.Run)
	if a.work != nil {
		for i := 0; i < a.work.Mutators(); i++ {
			i := i
			a.sup.Go(workload.MutatorName(i), func(c context.Context) error {
				return a.work.RunMutator(c, i)
			})
		}
	}
	a.sup.Go0("appstate.signals", func(c context.Context) {
		a.tracker.ListenSignals(c, a.log.With(logx.String("comp", "appstate")))
	})
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	cfg := a.cfgm.Get()
	if dcfg, err := mapDebugConfig(cfg); err == nil {
		a.debug.Reconfigure(a.sup.Context(), dcfg)
	}
	if err := a.report.Apply(cfg.Report); err != nil {
		a.log.Warn("report disabled", logx.Err(err))
	}

	// Event log for observability/debug. Requests are high-volume and the
	// scheduler already logs them sampled.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.TypeGCRequested {
					continue
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.sd.Reloading()
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
				a.sd.Ready()
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.log.Info("app started",
		logx.String("policy", string(a.sched.Kind())),
		logx.String("target_heap", bytesOrMax(a.sched.Config().TargetHeapBytes())),
		logx.Bool("workload", a.work != nil),
		logx.Bool("journal", a.store != nil),
	)
	return nil
}

// applyConfig pushes a reloaded config into every live component. Sections
// that cannot change at runtime are reported and left alone.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}
	restart := func(what string) {
		a.log.Warn(what + " changed; restart required for changes to take effect")
	}

	if has("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if has("scheduler") {
		oldS, newS := oldCfg.Scheduler, newCfg.Scheduler
		if k, _ := newS.Kind(); k != a.sched.Kind() {
			restart("scheduler.policy")
		}
		if oldS.TrackerCapacity != newS.TrackerCapacity || oldS.TrackerDepth != newS.TrackerDepth || oldS.RequestLogRate != newS.RequestLogRate {
			restart("scheduler tracker/log rate")
		}
		if vals, err := reloadSchedulerValues(oldS, newS, a.sched.Config().TargetHeapBytes()); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else if err := a.sched.Reconfigure(vals); err != nil {
			a.log.Warn("scheduler reconfigure failed", logx.Err(err))
		}
		if oldS.AppState != newS.AppState {
			if st, err := appstate.ParseState(newS.AppState); err == nil && strings.TrimSpace(newS.AppState) != "" {
				a.tracker.Set(st)
			}
		}
	}

	if has("collector") {
		if opts, err := mapCollectorOptions(newCfg); err != nil {
			a.log.Warn("invalid collector config; keeping previous", logx.Err(err))
		} else {
			a.coll.SetMinGap(opts.MinGap)
		}
		if oldCfg.Collector.KeepRuntimePacer != newCfg.Collector.KeepRuntimePacer {
			restart("collector.keep_runtime_pacer")
		}
	}

	if has("workload") {
		ow, nw := oldCfg.Workload.Resolved(), newCfg.Workload.Resolved()
		if a.work != nil && newCfg.Workload.Enabled {
			a.work.SetRate(nw.AllocsPerSec)
		}
		if oldCfg.Workload.Enabled != newCfg.Workload.Enabled || ow.Mutators != nw.Mutators ||
			ow.AllocSize != nw.AllocSize || ow.SafepointWeight != nw.SafepointWeight || ow.Retain != nw.Retain {
			restart("workload shape")
		}
	}

	if has("storage") {
		restart("storage")
	}

	if has("debug") {
		if dcfg, err := mapDebugConfig(newCfg); err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(ctx, dcfg)
		}
	}

	if has("report") {
		if err := a.report.Apply(newCfg.Report); err != nil {
			a.log.Warn("invalid report config; keeping previous", logx.Err(err))
		}
	}

	if has("systemd") {
		a.sd.SetEnabled(newCfg.Systemd.Notify)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("report", time.Second, func(context.Context) error { a.report.Stop(); return nil })
	step("debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	// Mutators, the timer loop and the collector all unwind on cancel. The
	// collector restores the runtime pacer on its way out.
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped",
		logx.Uint64("epoch", a.sched.Epoch()),
		logx.Uint64("collections", a.coll.Stats().Collections),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
