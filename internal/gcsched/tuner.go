package gcsched

import "math"

// TuneTarget returns clamp(liveSetBytes/utilization, lo, hi).
func TuneTarget(liveSetBytes uint64, utilization float64, lo, hi uint64) uint64 {
	var target uint64
	candidate := float64(liveSetBytes) / utilization
	switch {
	case math.IsNaN(candidate):
		target = hi
	case candidate >= math.MaxUint64:
		target = math.MaxUint64
	default:
		target = uint64(candidate)
	}
	if target < lo {
		target = lo
	}
	if target > hi {
		target = hi
	}
	return target
}

// Tuner rewrites the target heap size after every collection.
type Tuner struct {
	cfg *Config
}

func NewTuner(cfg *Config) Tuner { return Tuner{cfg: cfg} }

// OnCollectionCompleted retunes the target from the live set when auto-tune
// is on. It returns the previous and current targets.
func (t Tuner) OnCollectionCompleted(liveSetBytes uint64) (prev, next uint64, tuned bool) {
	prev = t.cfg.TargetHeapBytes()
	if !t.cfg.AutoTune() {
		return prev, prev, false
	}
	next = TuneTarget(liveSetBytes, t.cfg.TargetHeapUtilization(), t.cfg.MinHeapBytes(), t.cfg.MaxHeapBytes())
	t.cfg.SetTargetHeapBytes(next)
	return prev, next, true
}
