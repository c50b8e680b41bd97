package gcsched

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t)
	if got := cfg.Snapshot(); got != DefaultValues() {
		t.Fatalf("defaults = %+v, want %+v", got, DefaultValues())
	}
	if cfg.MaxHeapBytes() != math.MaxUint64 {
		t.Fatalf("max heap default = %d", cfg.MaxHeapBytes())
	}
}

func TestNewConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero safepoint threshold", []Option{WithSafepointThreshold(0)}},
		{"zero allocation threshold", []Option{WithAllocationThresholdBytes(0)}},
		{"zero target", []Option{WithTargetHeapBytes(0)}},
		{"zero utilization", []Option{WithTargetHeapUtilization(0)}},
		{"utilization above one", []Option{WithTargetHeapUtilization(1.5)}},
		{"nan utilization", []Option{WithTargetHeapUtilization(math.NaN())}},
		{"min above max", []Option{WithHeapBounds(10, 5)}},
		{"zero interval", []Option{WithRegularGCIntervalMicros(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfig(tt.opts...); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigUpdateKeepsOldValuesOnError(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t, WithTargetHeapBytes(123))
	v := cfg.Snapshot()
	v.TargetHeapBytes = 0
	if err := cfg.Update(v); err == nil {
		t.Fatalf("Update accepted zero target")
	}
	if cfg.TargetHeapBytes() != 123 {
		t.Fatalf("target = %d after rejected update", cfg.TargetHeapBytes())
	}

	v.TargetHeapBytes = 456
	v.TargetHeapUtilization = 0.25
	if err := cfg.Update(v); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cfg.TargetHeapBytes() != 456 || cfg.TargetHeapUtilization() != 0.25 {
		t.Fatalf("update not applied: %+v", cfg.Snapshot())
	}
}

func TestConfigConcurrentFieldAccess(t *testing.T) {
	t.Parallel()
	cfg := mustConfig(t)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 1000; i++ {
			cfg.SetTargetHeapBytes(i)
			cfg.SetTargetHeapUtilization(float64(i%10+1) / 10)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if u := cfg.TargetHeapUtilization(); u <= 0 || u > 1 {
				t.Errorf("torn utilization %v", u)
				return
			}
			_ = cfg.TargetHeapBytes()
		}
	}()
	wg.Wait()
}
