package app

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"gcpacer/internal/config"
	logx "gcpacer/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// reporter logs a periodic one-line summary and mirrors it to the systemd
// STATUS field.
type reporter struct {
	mu  sync.Mutex
	c   *cron.Cron
	cfg config.ReportConfig

	log     logx.Logger
	summary func() string
	status  func(string)
}

func newReporter(log logx.Logger, summary func() string, status func(string)) *reporter {
	return &reporter{log: log, summary: summary, status: status}
}

// Apply (re)schedules the report. An unchanged config is a no-op.
func (r *reporter) Apply(cfg config.ReportConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil && cfg == r.cfg {
		return nil
	}
	r.stopLocked()
	r.cfg = cfg
	if !cfg.Enabled {
		return nil
	}

	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = config.DefaultReportSchedule
	}
	sched, err := config.ParseCron(spec)
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("report.timezone: %w", err)
		}
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(r.run))
	c.Start()
	r.c = c
	r.log.Info("report scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (r *reporter) run() {
	line := r.summary()
	r.log.Info("gc report", logx.String("summary", line))
	if r.status != nil {
		r.status(line)
	}
}

func (r *reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *reporter) stopLocked() {
	if r.c == nil {
		return
	}
	// Wait for a running report so Stop never races the logger shutdown.
	<-r.c.Stop().Done()
	r.c = nil
}

func bytesOrMax(n uint64) string {
	if n == ^uint64(0) {
		return "max"
	}
	return humanize.IBytes(n)
}

// comma groups digits; counts past MaxInt64 fall back to plain digits.
func comma(n uint64) string {
	if n > math.MaxInt64 {
		return strconv.FormatUint(n, 10)
	}
	return humanize.Comma(int64(n))
}

// summarize renders one report line from the current stats.
func (a *App) summarize() string {
	st := a.sched.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "policy=%s epoch=%s heap=%s target=%s live=%s requests=%s",
		st.Policy,
		comma(st.Epoch),
		bytesOrMax(st.HeapBytes),
		bytesOrMax(st.TargetHeapBytes),
		bytesOrMax(st.LastLiveSetBytes),
		comma(st.TotalRequests()),
	)
	if a.coll != nil {
		cs := a.coll.Stats()
		fmt.Fprintf(&b, " collections=%s coalesced=%s", comma(cs.Collections), comma(cs.Coalesced))
		if !cs.LastAt.IsZero() {
			fmt.Fprintf(&b, " last=%s", humanize.Time(cs.LastAt))
		}
	}
	if a.work != nil {
		ws := a.work.Stats()
		fmt.Fprintf(&b, " allocated=%s", bytesOrMax(ws.AllocatedBytes))
	}
	if a.tracker != nil {
		fmt.Fprintf(&b, " state=%s", a.tracker.State())
	}
	return b.String()
}
