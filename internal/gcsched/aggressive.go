package gcsched

// AggressivePolicy is a stress-testing policy: every mutator crossing is a
// decision point, and each safepoint is worth one collection the first time
// it is reached.
type AggressivePolicy struct {
	heap    heapAggregate
	tracker *SafepointTracker
	request RequestFunc
}

// NewAggressivePolicy sets both per-thread thresholds in cfg to 1, so every
// safepoint and every allocation reaches UpdateFromThreadData.
func NewAggressivePolicy(cfg *Config, request RequestFunc, deps Deps) *AggressivePolicy {
	cfg.SetSafepointThreshold(1)
	cfg.SetAllocationThresholdBytes(1)
	return &AggressivePolicy{
		heap:    heapAggregate{cfg: cfg},
		tracker: NewSafepointTracker(deps.TrackerCapacity, deps.TrackerDepth),
		request: request.orNop(),
	}
}

// UpdateFromThreadData requests once for a never-seen safepoint and, as a
// separate check, when the aggregate reached the target. Both may fire.
func (p *AggressivePolicy) UpdateFromThreadData(td *ThreadData) {
	if p.tracker.RegisterCurrentSafepoint(1) {
		p.request(ReasonSafepoint)
	}
	if p.heap.fold(td) {
		p.request(ReasonHeap)
	}
}

func (p *AggressivePolicy) OnCollectionCompleted(liveSetBytes uint64) {
	p.heap.reset(liveSetBytes)
}

func (p *AggressivePolicy) HeapBytes() uint64 { return p.heap.load() }

// Tracker exposes the safepoint set for diagnostics.
func (p *AggressivePolicy) Tracker() *SafepointTracker { return p.tracker }
