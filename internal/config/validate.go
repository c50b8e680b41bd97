package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gcpacer/internal/appstate"
	"gcpacer/internal/gcsched"
	logx "gcpacer/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	DefaultReportSchedule  = "@every 1m"
	DefaultMutators        = 4
	DefaultAllocSize       = 4 * 1024
	DefaultAllocsPerSec    = 2000
	DefaultRetainPerWorker = 8 * 1024 * 1024
	DefaultRequestLogRate  = 20
)

// cronParser accepts an optional seconds field and descriptors (@every, @hourly).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a report schedule with the parser the app uses.
func ParseCron(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

// SchedulerValues resolves defaults and converts the section into the
// scheduler's tunables.
func (s SchedulerConfig) SchedulerValues() (gcsched.Values, error) {
	def := gcsched.DefaultValues()
	v := gcsched.Values{
		SafepointThreshold:       s.SafepointThreshold,
		AllocationThresholdBytes: s.AllocationThreshold.OrDefault(def.AllocationThresholdBytes),
		TargetHeapBytes:          s.TargetHeap.OrDefault(def.TargetHeapBytes),
		TargetHeapUtilization:    s.TargetHeapUtilization,
		MinHeapBytes:             s.MinHeap.OrDefault(def.MinHeapBytes),
		MaxHeapBytes:             s.MaxHeap.OrDefault(def.MaxHeapBytes),
		AutoTune:                 def.AutoTune,
	}
	if v.SafepointThreshold == 0 {
		v.SafepointThreshold = def.SafepointThreshold
	}
	if v.TargetHeapUtilization == 0 {
		v.TargetHeapUtilization = def.TargetHeapUtilization
	}
	if s.AutoTune != nil {
		v.AutoTune = *s.AutoTune
	}
	us, err := ParseMicrosOrDefault("scheduler.regular_gc_interval", s.RegularGCInterval,
		time.Duration(def.RegularGCIntervalMicros)*time.Microsecond)
	if err != nil {
		return gcsched.Values{}, err
	}
	v.RegularGCIntervalMicros = us
	if err := v.Validate(); err != nil {
		return gcsched.Values{}, fmt.Errorf("scheduler: %w", err)
	}
	return v, nil
}

// Kind parses the policy name; empty means timer.
func (s SchedulerConfig) Kind() (gcsched.Kind, error) {
	return gcsched.ParseKind(s.Policy)
}

// LogRate returns the request log budget: 0 means unlimited.
func (s SchedulerConfig) LogRate() float64 {
	switch {
	case s.RequestLogRate < 0:
		return 0
	case s.RequestLogRate == 0:
		return DefaultRequestLogRate
	default:
		return s.RequestLogRate
	}
}

// Resolved returns the workload section with defaults applied.
func (w WorkloadConfig) Resolved() WorkloadConfig {
	if w.Mutators <= 0 {
		w.Mutators = DefaultMutators
	}
	if w.AllocSize == 0 {
		w.AllocSize = DefaultAllocSize
	}
	if w.AllocsPerSec == 0 {
		w.AllocsPerSec = DefaultAllocsPerSec
	}
	if w.SafepointWeight == 0 {
		w.SafepointWeight = 1
	}
	if w.Retain == 0 {
		w.Retain = DefaultRetainPerWorker
	}
	return w
}

// Validate checks every section that can be checked without side effects.
// The returned error joins all problems found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: %q is not console or json", c.Logging.Format))
	}

	if _, err := c.Scheduler.Kind(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.policy: %w", err))
	}
	if _, err := c.Scheduler.SchedulerValues(); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.TrackerCapacity < 0 || c.Scheduler.TrackerDepth < 0 {
		errs = append(errs, errors.New("scheduler: tracker_capacity and tracker_depth must be >= 0"))
	}
	if math.IsNaN(c.Scheduler.RequestLogRate) {
		errs = append(errs, errors.New("scheduler.request_log_rate: NaN"))
	}
	if strings.TrimSpace(c.Scheduler.AppState) != "" {
		if _, err := appstate.ParseState(c.Scheduler.AppState); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.app_state: %w", err))
		}
	}

	if c.Workload.Mutators < 0 {
		errs = append(errs, errors.New("workload.mutators must be >= 0"))
	}
	if c.Workload.AllocsPerSec < 0 || math.IsNaN(c.Workload.AllocsPerSec) {
		errs = append(errs, errors.New("workload.allocs_per_sec must be >= 0"))
	}

	if _, err := ParseDurationField("collector.min_gap", c.Collector.MinGap); err != nil {
		errs = append(errs, err)
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if c.Storage.Keep < 0 {
			errs = append(errs, errors.New("storage.keep must be >= 0"))
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", c.Debug.ReadTimeout},
		{"debug.write_timeout", c.Debug.WriteTimeout},
		{"debug.idle_timeout", c.Debug.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Report.Enabled {
		spec := strings.TrimSpace(c.Report.Schedule)
		if spec == "" {
			spec = DefaultReportSchedule
		}
		if _, err := ParseCron(spec); err != nil {
			errs = append(errs, fmt.Errorf("report.schedule: %w", err))
		}
		if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("report.timezone: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
