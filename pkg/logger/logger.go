// Package logger provides slog loggers with level-colored terminal output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ANSI color codes used by the colored handler.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// Options configures a logger.
type Options struct {
	Level  slog.Level
	Output io.Writer
	// NoColor disables ANSI colors, for non-terminal output.
	NoColor bool
}

// NewDefaultLogger creates a colored text logger writing to stderr at the
// given level.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(Options{Level: level, Output: os.Stderr})
}

// NewLogger creates a logger with the given options.
func NewLogger(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return slog.New(&coloredHandler{
		out:     opts.Output,
		level:   opts.Level,
		noColor: opts.NoColor,
	})
}

// coloredHandler is a minimal slog.Handler that renders records as
// "LEVEL message key=value ..." with the level colored by severity.
type coloredHandler struct {
	out     io.Writer
	level   slog.Level
	noColor bool
	attrs   []slog.Attr
	groups  []string

	mu sync.Mutex
}

func (h *coloredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *coloredHandler) Handle(_ context.Context, r slog.Record) error {
	levelText := r.Level.String()
	if !h.noColor {
		switch {
		case r.Level >= slog.LevelError:
			levelText = colorRed + levelText + colorReset
		case r.Level >= slog.LevelWarn:
			levelText = colorYellow + levelText + colorReset
		case r.Level < slog.LevelInfo:
			levelText = colorGray + levelText + colorReset
		}
	}

	line := fmt.Sprintf("%s %s %s", r.Time.Format("15:04:05.000"), levelText, r.Message)

	for _, attr := range h.attrs {
		line += " " + h.formatAttr(attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += " " + h.formatAttr(attr)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *coloredHandler) formatAttr(attr slog.Attr) string {
	key := attr.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return fmt.Sprintf("%s=%v", key, attr.Value.Resolve())
}

func (h *coloredHandler) clone() *coloredHandler {
	return &coloredHandler{
		out:     h.out,
		level:   h.level,
		noColor: h.noColor,
		attrs:   h.attrs,
		groups:  h.groups,
	}
}

func (h *coloredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return clone
}

func (h *coloredHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(append([]string{}, h.groups...), name)
	return clone
}
