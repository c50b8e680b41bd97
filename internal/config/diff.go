package config

import (
	"reflect"
	"sort"
	"strings"

	logx "gcpacer/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.String("scheduler.policy", strings.TrimSpace(s.Policy)),
			logx.Bool("scheduler.policy_changed", !strings.EqualFold(strings.TrimSpace(oldCfg.Scheduler.Policy), strings.TrimSpace(s.Policy))),
			logx.String("scheduler.target_heap", s.TargetHeap.String()),
			logx.String("scheduler.regular_gc_interval", strings.TrimSpace(s.RegularGCInterval)),
		)
		if s.AutoTune != nil {
			attrs = append(attrs, logx.Bool("scheduler.auto_tune", *s.AutoTune))
		}
	}

	if oldCfg.Workload != newCfg.Workload {
		changed = append(changed, "workload")
		w := newCfg.Workload
		attrs = append(attrs,
			logx.Bool("workload.enabled", w.Enabled),
			logx.Int("workload.mutators", w.Mutators),
			logx.Float64("workload.allocs_per_sec", w.AllocsPerSec),
			logx.String("workload.alloc_size", w.AllocSize.String()),
		)
	}

	if oldCfg.Collector != newCfg.Collector {
		changed = append(changed, "collector")
		attrs = append(attrs,
			logx.String("collector.min_gap", strings.TrimSpace(newCfg.Collector.MinGap)),
			logx.Bool("collector.keep_runtime_pacer", newCfg.Collector.KeepRuntimePacer),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		oS.Keep != nS.Keep {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	// Debug server (never log token)
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		d := newCfg.Debug
		attrs = append(attrs,
			logx.Bool("debug.enabled", d.Enabled),
			logx.String("debug.addr", strings.TrimSpace(d.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(d.Token) != ""),
			logx.Bool("debug.allow_insecure", d.AllowInsecure),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", strings.TrimSpace(newCfg.Report.Schedule)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}
