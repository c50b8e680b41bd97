package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func jsonLogger(w *bytes.Buffer, level string) Logger {
	_, log := New(Config{Level: level, Console: true, JSON: true, Out: w})
	return log
}

func TestLoggerWithFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := jsonLogger(&buf, "debug").With(String("comp", "test"))
	log.Debug("hello", Uint64("bytes", 42))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	m := lines[0]
	if m["message"] != "hello" || m["comp"] != "test" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["bytes"].(float64) != 42 {
		t.Fatalf("bytes = %v, want 42", m["bytes"])
	}
	caller, _ := m[zerolog.CallerFieldName].(string)
	if !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", caller)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := jsonLogger(&buf, "warn")
	log.Info("dropped")
	log.Warn("kept")
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Fatalf("expected 1 line, got %d", n)
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
}

func TestApplyRetargetsDerivedLoggers(t *testing.T) {
	var first, second bytes.Buffer
	svc, root := New(Config{Level: "info", Console: true, JSON: true, Out: &first})
	log := root.With(String("comp", "collector"))
	log.Debug("hidden")
	log.Info("before")

	svc.Apply(Config{Level: "debug", Console: true, JSON: true, Out: &second})
	log.Debug("after")

	if n := len(decodeLines(t, &first)); n != 1 {
		t.Fatalf("first sink lines = %d, want 1", n)
	}
	lines := decodeLines(t, &second)
	if len(lines) != 1 || lines[0]["message"] != "after" || lines[0]["comp"] != "collector" {
		t.Fatalf("second sink = %v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"":         LevelInfo,
		"TRACE":    LevelTrace,
		" debug ":  LevelDebug,
		"warning":  LevelWarn,
		"error":    LevelError,
		"disabled": zerolog.Disabled,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"loud", "fatal"} {
		if _, err := ParseLevel(bad); err == nil {
			t.Fatalf("ParseLevel(%q) accepted", bad)
		}
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("no panic")
}

func TestSampledSuppressesOverBudget(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampled(jsonLogger(&buf, "debug"), 0.0001, 2)

	for i := 0; i < 10; i++ {
		s.Debug("tick")
	}
	if n := len(decodeLines(t, &buf)); n != 2 {
		t.Fatalf("expected burst of 2 lines, got %d", n)
	}
	if got := s.Suppressed(); got != 8 {
		t.Fatalf("suppressed = %d, want 8", got)
	}
}

func TestSampledUnlimited(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampled(jsonLogger(&buf, "debug"), 0, 0)
	for i := 0; i < 5; i++ {
		s.Info("tick")
	}
	if n := len(decodeLines(t, &buf)); n != 5 {
		t.Fatalf("expected 5 lines, got %d", n)
	}
}

func TestSampledSkipsDisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampled(jsonLogger(&buf, "info"), 0.0001, 1)
	for i := 0; i < 3; i++ {
		s.Debug("hidden")
	}
	if s.Suppressed() != 0 {
		t.Fatalf("disabled lines must not consume budget")
	}
	s.Info("shown")
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Fatalf("expected 1 line, got %d", n)
	}
}
