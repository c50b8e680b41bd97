package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampled is a Logger behind a token bucket.
//
// It is meant for hot paths (one line per GC request, per safepoint crossing)
// where an unbounded stream of identical lines would drown the sink. Lines
// over budget are counted, and the next admitted line carries the count as
// "suppressed".
type Sampled struct {
	log     Logger
	lim     *rate.Limiter
	dropped atomic.Uint64
}

// NewSampled admits perSec lines per second with the given burst.
// perSec <= 0 disables sampling (every line is admitted).
func NewSampled(log Logger, perSec float64, burst int) *Sampled {
	if log.IsZero() {
		log = Nop()
	}
	s := &Sampled{log: log}
	if perSec > 0 {
		if burst < 1 {
			burst = 1
		}
		s.lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return s
}

// Suppressed returns the number of lines dropped since the last admitted one.
func (s *Sampled) Suppressed() uint64 { return s.dropped.Load() }

func (s *Sampled) Debug(msg string, fields ...Field) { s.emit(LevelDebug, msg, fields...) }
func (s *Sampled) Info(msg string, fields ...Field)  { s.emit(LevelInfo, msg, fields...) }
func (s *Sampled) Warn(msg string, fields ...Field)  { s.emit(LevelWarn, msg, fields...) }

func (s *Sampled) emit(level Level, msg string, fields ...Field) {
	if s == nil || !s.log.Enabled(level) {
		return
	}
	if s.lim != nil && !s.lim.Allow() {
		s.dropped.Add(1)
		return
	}
	if n := s.dropped.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	s.log.emit(level, sampledFrames, msg, fields)
}
