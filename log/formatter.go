package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Format selects how log records are rendered.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatText writes lines of the form
	//
	//	[2024-01-01 12:00:00] INFO  message key=value
	FormatText Format = "text"
	// FormatColor is FormatText with the level highlighted by ANSI colors.
	FormatColor Format = "color"
)

// ParseFormat parses a format name. The match is case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText, FormatColor:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("log: unknown format %q", s)
	}
}

// ParseLevel parses a level name. The match is case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log: unknown level %q", s)
	}
}

// NewHandler returns a handler writing records at or above level to w in
// the given format.
func NewHandler(w io.Writer, format Format, level slog.Level) (slog.Handler, error) {
	switch format {
	case FormatJSON, "":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatText:
		return newLineHandler(w, level, false), nil
	case FormatColor:
		return newLineHandler(w, level, true), nil
	default:
		return nil, fmt.Errorf("log: unknown format %q", format)
	}
}

// ANSI color escape codes used by the color format.
const (
	ansiReset  = "\033[0m"
	ansiGray   = "\033[37m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

const lineTimeFormat = "2006-01-02 15:04:05"

func colorForLevel(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return ansiGray
	case level < slog.LevelWarn:
		return ansiGreen
	case level < slog.LevelError:
		return ansiYellow
	default:
		return ansiRed
	}
}

// lineHandler renders one plain-text line per record. Child handlers share
// the writer lock of their parent.
type lineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	color  bool
	prefix string // rendered handler attributes
	group  string
}

func newLineHandler(w io.Writer, level slog.Leveler, color bool) *lineHandler {
	return &lineHandler{mu: new(sync.Mutex), w: w, level: level, color: color}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(ts.Format(lineTimeFormat))
	b.WriteString("] ")
	if h.color {
		b.WriteString(colorForLevel(r.Level))
	}
	// Pad to the widest level name so messages line up.
	fmt.Fprintf(&b, "%-5s", r.Level.String())
	if h.color {
		b.WriteString(ansiReset)
	}
	b.WriteString(" ")
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	cpy := *h
	cpy.prefix = b.String()
	return &cpy
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cpy := *h
	cpy.group = h.group + name + "."
	return &cpy
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := group
		if a.Key != "" {
			sub += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, sub, ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(group)
	b.WriteString(a.Key)
	b.WriteString("=")
	s := a.Value.String()
	if strings.ContainsAny(s, " \t\n\"=") {
		s = fmt.Sprintf("%q", s)
	}
	b.WriteString(s)
}
