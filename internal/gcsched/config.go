package gcsched

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrInvalidConfig is wrapped by every construction-time validation error.
var ErrInvalidConfig = errors.New("gcsched: invalid config")

// Defaults applied by DefaultValues.
const (
	DefaultSafepointThreshold       uint64  = 100_000
	DefaultAllocationThresholdBytes uint64  = 10 * 1024
	DefaultTargetHeapBytes          uint64  = 1024 * 1024
	DefaultTargetHeapUtilization    float64 = 0.5
	DefaultMinHeapBytes             uint64  = 1024 * 1024
	DefaultMaxHeapBytes             uint64  = math.MaxUint64
	DefaultRegularGCIntervalMicros  uint64  = 10_000_000
)

// Values is a plain, copyable view of every tunable. It is what config
// files decode into and what Config.Snapshot returns.
type Values struct {
	SafepointThreshold       uint64  `json:"safepoint_threshold"`
	AllocationThresholdBytes uint64  `json:"allocation_threshold_bytes"`
	TargetHeapBytes          uint64  `json:"target_heap_bytes"`
	TargetHeapUtilization    float64 `json:"target_heap_utilization"`
	MinHeapBytes             uint64  `json:"min_heap_bytes"`
	MaxHeapBytes             uint64  `json:"max_heap_bytes"`
	AutoTune                 bool    `json:"auto_tune"`
	RegularGCIntervalMicros  uint64  `json:"regular_gc_interval_us"`
}

func DefaultValues() Values {
	return Values{
		SafepointThreshold:       DefaultSafepointThreshold,
		AllocationThresholdBytes: DefaultAllocationThresholdBytes,
		TargetHeapBytes:          DefaultTargetHeapBytes,
		TargetHeapUtilization:    DefaultTargetHeapUtilization,
		MinHeapBytes:             DefaultMinHeapBytes,
		MaxHeapBytes:             DefaultMaxHeapBytes,
		AutoTune:                 true,
		RegularGCIntervalMicros:  DefaultRegularGCIntervalMicros,
	}
}

// Validate rejects combinations no decision path can make sense of.
func (v Values) Validate() error {
	if v.SafepointThreshold == 0 {
		return fmt.Errorf("%w: safepoint threshold must be >= 1", ErrInvalidConfig)
	}
	if v.AllocationThresholdBytes == 0 {
		return fmt.Errorf("%w: allocation threshold must be >= 1 byte", ErrInvalidConfig)
	}
	if v.TargetHeapBytes == 0 {
		return fmt.Errorf("%w: target heap must be >= 1 byte", ErrInvalidConfig)
	}
	u := v.TargetHeapUtilization
	if math.IsNaN(u) || u <= 0 || u > 1 {
		return fmt.Errorf("%w: target heap utilization %v not in (0,1]", ErrInvalidConfig, u)
	}
	if v.MinHeapBytes > v.MaxHeapBytes {
		return fmt.Errorf("%w: min heap %d > max heap %d", ErrInvalidConfig, v.MinHeapBytes, v.MaxHeapBytes)
	}
	if v.RegularGCIntervalMicros == 0 {
		return fmt.Errorf("%w: regular gc interval must be >= 1us", ErrInvalidConfig)
	}
	return nil
}

// Option adjusts Values before NewConfig validates them.
type Option func(*Values)

func WithSafepointThreshold(n uint64) Option {
	return func(v *Values) { v.SafepointThreshold = n }
}

func WithAllocationThresholdBytes(n uint64) Option {
	return func(v *Values) { v.AllocationThresholdBytes = n }
}

func WithTargetHeapBytes(n uint64) Option {
	return func(v *Values) { v.TargetHeapBytes = n }
}

func WithTargetHeapUtilization(u float64) Option {
	return func(v *Values) { v.TargetHeapUtilization = u }
}

// WithHeapBounds sets the auto-tune clamps.
func WithHeapBounds(min, max uint64) Option {
	return func(v *Values) {
		v.MinHeapBytes = min
		v.MaxHeapBytes = max
	}
}

func WithAutoTune(enabled bool) Option {
	return func(v *Values) { v.AutoTune = enabled }
}

func WithRegularGCIntervalMicros(us uint64) Option {
	return func(v *Values) { v.RegularGCIntervalMicros = us }
}

// Config is the live, shared set of tunables.
//
// Every field is an independent atomic: a reader never sees a torn field,
// but two fields read one after the other may come from different writes.
// Decision paths read fields fresh on every evaluation and never cache them.
type Config struct {
	safepointThreshold  atomic.Uint64
	allocationThreshold atomic.Uint64
	targetHeap          atomic.Uint64
	utilizationBits     atomic.Uint64
	minHeap             atomic.Uint64
	maxHeap             atomic.Uint64
	autoTune            atomic.Bool
	intervalMicros      atomic.Uint64
}

// NewConfig starts from DefaultValues, applies opts and validates.
func NewConfig(opts ...Option) (*Config, error) {
	v := DefaultValues()
	for _, opt := range opts {
		if opt != nil {
			opt(&v)
		}
	}
	return NewConfigFrom(v)
}

// NewConfigFrom validates v and returns a Config holding it.
func NewConfigFrom(v Values) (*Config, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	c := &Config{}
	c.store(v)
	return c, nil
}

// Update validates v as a whole, then stores it field by field. Concurrent
// readers may observe a mix of old and new fields while it runs.
func (c *Config) Update(v Values) error {
	if err := v.Validate(); err != nil {
		return err
	}
	c.store(v)
	return nil
}

func (c *Config) store(v Values) {
	c.safepointThreshold.Store(v.SafepointThreshold)
	c.allocationThreshold.Store(v.AllocationThresholdBytes)
	c.targetHeap.Store(v.TargetHeapBytes)
	c.utilizationBits.Store(math.Float64bits(v.TargetHeapUtilization))
	c.minHeap.Store(v.MinHeapBytes)
	c.maxHeap.Store(v.MaxHeapBytes)
	c.autoTune.Store(v.AutoTune)
	c.intervalMicros.Store(v.RegularGCIntervalMicros)
}

// Snapshot reads every field once. It is not a consistent cut.
func (c *Config) Snapshot() Values {
	return Values{
		SafepointThreshold:       c.SafepointThreshold(),
		AllocationThresholdBytes: c.AllocationThresholdBytes(),
		TargetHeapBytes:          c.TargetHeapBytes(),
		TargetHeapUtilization:    c.TargetHeapUtilization(),
		MinHeapBytes:             c.MinHeapBytes(),
		MaxHeapBytes:             c.MaxHeapBytes(),
		AutoTune:                 c.AutoTune(),
		RegularGCIntervalMicros:  c.RegularGCIntervalMicros(),
	}
}

func (c *Config) SafepointThreshold() uint64           { return c.safepointThreshold.Load() }
func (c *Config) SetSafepointThreshold(n uint64)       { c.safepointThreshold.Store(n) }
func (c *Config) AllocationThresholdBytes() uint64     { return c.allocationThreshold.Load() }
func (c *Config) SetAllocationThresholdBytes(n uint64) { c.allocationThreshold.Store(n) }
func (c *Config) TargetHeapBytes() uint64              { return c.targetHeap.Load() }
func (c *Config) SetTargetHeapBytes(n uint64)          { c.targetHeap.Store(n) }
func (c *Config) MinHeapBytes() uint64                 { return c.minHeap.Load() }
func (c *Config) SetMinHeapBytes(n uint64)             { c.minHeap.Store(n) }
func (c *Config) MaxHeapBytes() uint64                 { return c.maxHeap.Load() }
func (c *Config) SetMaxHeapBytes(n uint64)             { c.maxHeap.Store(n) }
func (c *Config) AutoTune() bool                       { return c.autoTune.Load() }
func (c *Config) SetAutoTune(enabled bool)             { c.autoTune.Store(enabled) }
func (c *Config) RegularGCIntervalMicros() uint64      { return c.intervalMicros.Load() }
func (c *Config) SetRegularGCIntervalMicros(us uint64) { c.intervalMicros.Store(us) }

func (c *Config) TargetHeapUtilization() float64 {
	return math.Float64frombits(c.utilizationBits.Load())
}

func (c *Config) SetTargetHeapUtilization(u float64) {
	c.utilizationBits.Store(math.Float64bits(u))
}
