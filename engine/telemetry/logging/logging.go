// Package logging initialises the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler installed by Setup.
type Options struct {
	// Level is one of trace, debug, info, warn, error. "trace" maps to a
	// level below debug so very chatty modules can opt in.
	Level string
	// Format is "json" or "pretty".
	Format string
	// Writer overrides the output stream (stderr by default). Used by tests.
	Writer io.Writer
}

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup builds a logger per opts and installs it as the slog default.
// Called exactly once at daemon startup, before any module starts.
func Setup(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "pretty":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// ForModule returns the default logger tagged with a module attribute.
func ForModule(name string) *slog.Logger {
	return slog.Default().With(slog.String("module", name))
}
