package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ANSI color per level, for interactive console output.
const (
	colorReset  = "\033[0m"
	colorWhite  = "\033[37m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func levelColor(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return colorWhite
	case level < slog.LevelWarn:
		return colorGreen
	case level < slog.LevelError:
		return colorYellow
	default:
		return colorRed
	}
}

// consoleHandler is a human-oriented slog handler: one line per record,
// timestamp, bracketed level tag (colorized when enabled), message, then
// key=value pairs.
type consoleHandler struct {
	level  slog.Level
	color  bool
	mu     *sync.Mutex
	w      io.Writer
	prefix string // accumulated group path, "a.b."
	attrs  string // preformatted attrs from WithAttrs
}

var _ slog.Handler = (*consoleHandler)(nil)

func newConsoleHandler(w io.Writer, level slog.Level, color bool) *consoleHandler {
	return &consoleHandler{
		level: level,
		color: color,
		mu:    &sync.Mutex{},
		w:     w,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	if h.color {
		b.WriteString(levelColor(r.Level))
		b.WriteString(r.Level.String())
		b.WriteString(colorReset)
	} else {
		b.WriteString(r.Level.String())
	}
	b.WriteString("] ")
	b.WriteString(r.Message)
	b.WriteString(h.attrs)

	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) appendAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(b, " %s%s=%v", h.prefix, a.Key, a.Value.Resolve())
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		h.appendAttr(&b, a)
	}
	next.attrs = b.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}
