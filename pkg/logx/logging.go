package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config is applied as a whole by Service.Apply.
type Config struct {
	Level   string // trace, debug, info, warn, error or disabled; empty means info
	Console bool
	JSON    bool // console sink writes JSON lines instead of text
	File    FileConfig

	// Out is the console sink. Nil means stdout.
	Out io.Writer
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	DefaultFilePath = "./gcpacer.log"

	timeFormat = "2006-01-02T15:04:05.000Z07:00"

	// frames between zerolog's caller lookup and the code that logged:
	// emit, then the Logger or Sampled method.
	loggerFrames  = 2
	sampledFrames = 3
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ParseLevel maps a config string to a level. Empty selects info.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	case "fatal", "panic":
		return LevelInfo, fmt.Errorf("log level %q not supported", s)
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Field mutates a zerolog event. Later fields win on duplicate keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field          { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field         { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field   { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field       { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Float64(k string, v float64) Field { return func(e *zerolog.Event) { e.Float64(k, v) } }
func Any(k string, v any) Field         { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger writes through a Service, so loggers derived before a reload pick
// up the new sinks and level. The zero value discards everything.
type Logger struct {
	svc    *Service
	fields []Field
}

var nopService = func() *Service {
	s := &Service{}
	nop := zerolog.Nop()
	s.root.Store(&nop)
	return s
}()

func Nop() Logger { return Logger{svc: nopService} }

func (l Logger) IsZero() bool { return l.svc == nil && len(l.fields) == 0 }

func (l Logger) root() *zerolog.Logger {
	if l.svc == nil {
		return nopService.root.Load()
	}
	return l.svc.root.Load()
}

func (l Logger) Enabled(level Level) bool {
	return level >= l.root().GetLevel()
}

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, loggerFrames, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, loggerFrames, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, loggerFrames, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, loggerFrames, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, loggerFrames, msg, fields) }

func (l Logger) emit(level Level, frames int, msg string, fields []Field) {
	e := l.root().WithLevel(level)
	if e == nil {
		return
	}
	e = e.Caller(frames)
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// Service owns the sinks. Apply swaps them without invalidating loggers.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]
}

var setGlobals sync.Once

func New(cfg Config) (*Service, Logger) {
	setGlobals.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	})
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Apply rebuilds the sinks. An unknown level falls back to info; a log file
// that cannot be opened is reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v; using info\n", err)
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleSink(out, cfg.JSON))
	}
	var file *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleSink(out, cfg.JSON))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(&zl)

	// The old file closes only after the new root is live.
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

func consoleSink(w io.Writer, asJSON bool) io.Writer {
	if asJSON {
		return w
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}
