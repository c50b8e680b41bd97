package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler holds the GC trigger policy and its tunables. Every tunable
	// except policy is applied live on reload.
	Scheduler SchedulerConfig `json:"scheduler"`

	Workload  WorkloadConfig  `json:"workload"`
	Collector CollectorConfig `json:"collector,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Report    ReportConfig    `json:"report,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console (default) | json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig configures the GC scheduler.
//
// Byte sizes accept plain integers or strings such as "64MiB" or "10 kB".
// "max" (or "unlimited") means no upper bound.
//
// Defaults (when fields are omitted/zero):
//   - policy: "timer"
//   - safepoint_threshold: 100000
//   - allocation_threshold: 10KiB
//   - target_heap: 1MiB
//   - target_heap_utilization: 0.5
//   - min_heap: 1MiB, max_heap: max
//   - auto_tune: true
//   - regular_gc_interval: "10s"
//   - tracker_capacity: 10000, tracker_depth: 16
//   - request_log_rate: 20 lines/s
type SchedulerConfig struct {
	// Policy is one of safepoint|timer|aggressive. Changing it requires a restart.
	Policy string `json:"policy,omitempty"`

	SafepointThreshold    uint64   `json:"safepoint_threshold,omitempty"`
	AllocationThreshold   ByteSize `json:"allocation_threshold,omitempty"`
	TargetHeap            ByteSize `json:"target_heap,omitempty"`
	TargetHeapUtilization float64  `json:"target_heap_utilization,omitempty"`
	MinHeap               ByteSize `json:"min_heap,omitempty"`
	MaxHeap               ByteSize `json:"max_heap,omitempty"`

	// AutoTune is a pointer so an omitted field keeps the default (true).
	AutoTune *bool `json:"auto_tune,omitempty"`

	// RegularGCInterval is a Go duration string (e.g. "10s", "500ms").
	RegularGCInterval string `json:"regular_gc_interval,omitempty"`

	TrackerCapacity int `json:"tracker_capacity,omitempty"`
	TrackerDepth    int `json:"tracker_depth,omitempty"`

	// RequestLogRate caps "gc requested" debug lines per second. Negative logs all.
	RequestLogRate float64 `json:"request_log_rate,omitempty"`

	// AppState is the initial process state: foreground (default) or background.
	AppState string `json:"app_state,omitempty"`
}

// WorkloadConfig drives the synthetic mutators.
//
// Defaults:
//   - mutators: 4
//   - alloc_size: 4KiB
//   - allocs_per_sec: 2000 per mutator (0 = unpaced)
//   - safepoint_weight: 1
//   - retain: 8MiB per mutator
type WorkloadConfig struct {
	Enabled         bool     `json:"enabled"`
	Mutators        int      `json:"mutators,omitempty"`
	AllocSize       ByteSize `json:"alloc_size,omitempty"`
	AllocsPerSec    float64  `json:"allocs_per_sec,omitempty"`
	SafepointWeight uint64   `json:"safepoint_weight,omitempty"`
	Retain          ByteSize `json:"retain,omitempty"`
}

// CollectorConfig controls the component that performs requested collections.
//
// Durations are Go duration strings.
type CollectorConfig struct {
	// MinGap is the minimum time between two collections. Requests arriving
	// sooner are coalesced into one deferred collection. Default "0s".
	MinGap string `json:"min_gap,omitempty"`

	// KeepRuntimePacer leaves the Go runtime's own GC pacer enabled.
	// By default it is disabled (GOGC=off) so only the scheduler triggers.
	KeepRuntimePacer bool `json:"keep_runtime_pacer,omitempty"`
}

// StorageConfig controls the optional collection journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./gcpacer_journal" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Keep bounds the journal to the most recent records. Default 1000.
	Keep int `json:"keep,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof and scheduler
// introspection).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// ReportConfig schedules a periodic stats summary (log line + sd_notify STATUS).
//
// Schedule is a cron spec with optional seconds field, or a descriptor such
// as "@every 30s". Default "@every 1m".
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// SystemdConfig controls sd_notify integration. It is a no-op when the
// process is not started by systemd (NOTIFY_SOCKET unset).
type SystemdConfig struct {
	Notify bool `json:"notify"`
}
