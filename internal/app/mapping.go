package app

import (
	"fmt"
	"strings"
	"time"

	"gcpacer/internal/collector"
	"gcpacer/internal/config"
	"gcpacer/internal/gcsched"
	"gcpacer/internal/observability/debugsrv"
	"gcpacer/internal/storage"
	"gcpacer/internal/workload"
	logx "gcpacer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    strings.EqualFold(strings.TrimSpace(cfg.Logging.Format), "json"),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// reloadSchedulerValues maps a reloaded scheduler section. The tuned target
// survives unless target_heap itself changed.
func reloadSchedulerValues(oldS, newS config.SchedulerConfig, liveTarget uint64) (gcsched.Values, error) {
	vals, err := newS.SchedulerValues()
	if err != nil {
		return vals, err
	}
	if oldS.TargetHeap == newS.TargetHeap && liveTarget != 0 {
		vals.TargetHeapBytes = liveTarget
	}
	return vals, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./gcpacer_journal"
		}
		return storage.Config{Driver: driver, Path: path, Keep: sc.Keep}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Keep: sc.Keep}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	wt, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Prefix:               d.Prefix,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
		MemProfileRate:       d.MemProfileRate,
	}, nil
}

func mapCollectorOptions(cfg *config.Config) (collector.Options, error) {
	gap, err := config.ParseDurationField("collector.min_gap", cfg.Collector.MinGap)
	if err != nil {
		return collector.Options{}, err
	}
	return collector.Options{MinGap: gap, KeepRuntimePacer: cfg.Collector.KeepRuntimePacer}, nil
}

func mapWorkloadOptions(cfg *config.Config) workload.Options {
	w := cfg.Workload.Resolved()
	return workload.Options{
		Mutators:        w.Mutators,
		AllocSize:       uint64(w.AllocSize),
		AllocsPerSec:    w.AllocsPerSec,
		SafepointWeight: w.SafepointWeight,
		Retain:          uint64(w.Retain),
	}
}
