// Package gcsched decides when a garbage collection should be requested.
//
// Mutators report safepoints and allocations to a per-goroutine ThreadData.
// When a local counter crosses its threshold the active Policy folds the
// thread's bytes into a shared aggregate and may call the RequestFunc.
// After each collection the Tuner derives a new target heap size from the
// surviving live set.
//
// Three policies exist:
//
//	safepoint   decides only on mutator crossings
//	timer       adds a background interval timer, paused in the background
//	aggressive  requests on every first-seen safepoint (stress testing)
//
// Scheduler ties a policy, the tuner, logging and the event bus together.
package gcsched
