package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func jsonLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	return entry
}

func TestModuleAndWith(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, slog.LevelDebug).Module("network").With("network", 7).Info("certificate accepted", "height", 3)

	entry := decode(t, &buf)
	want := map[string]any{
		"module":  "network",
		"network": float64(7),
		"height":  float64(3),
		"msg":     "certificate accepted",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		write func(*Logger)
		want  bool
	}{
		{slog.LevelInfo, func(l *Logger) { l.Debug("x") }, false},
		{slog.LevelInfo, func(l *Logger) { l.Info("x") }, true},
		{slog.LevelWarn, func(l *Logger) { l.Info("x") }, false},
		{slog.LevelWarn, func(l *Logger) { l.Error("x") }, true},
		{slog.LevelDebug, func(l *Logger) { l.Debug("x") }, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := jsonLogger(&buf, tt.level)
		tt.write(l)
		if got := buf.Len() > 0; got != tt.want {
			t.Errorf("level %v: wrote=%v, want %v", tt.level, got, tt.want)
		}
	}

	var buf bytes.Buffer
	l := jsonLogger(&buf, slog.LevelWarn)
	if l.Enabled(slog.LevelInfo) || !l.Enabled(slog.LevelError) {
		t.Error("Enabled does not follow the handler level")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(slog.LevelError) {
		t.Error("discard logger reports error level enabled")
	}
	l.Module("x").Error("dropped")
}

func TestDefaultLogger(t *testing.T) {
	prev := Default()
	if prev == nil {
		t.Fatal("Default() returned nil")
	}
	defer SetDefault(prev)

	var buf bytes.Buffer
	l := jsonLogger(&buf, slog.LevelDebug)
	SetDefault(l)
	SetDefault(nil)
	if Default() != l {
		t.Fatal("SetDefault(nil) replaced the logger")
	}

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	for i, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(lines[i], `"level":"`+level+`"`) {
			t.Errorf("line %d = %s, want level %s", i, lines[i], level)
		}
	}
}
