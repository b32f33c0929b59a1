package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
)

type ctxLoggerKey struct{}

var (
	mu       sync.RWMutex
	fallback = New("info", os.Stderr)
)

// ParseLevel maps a level string to slog.Level. Unknown strings fall
// back to info, matching the CLI's --log-level default.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a console logger. All pipeline and store progress goes
// through this so that the record/serve commands keep stdout clean for
// their own output.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(ParseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	))
}

// SetDefault replaces the process-wide fallback logger used when a
// context carries none.
func SetDefault(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	fallback = logger
}

// Default returns the process-wide fallback logger.
func Default() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return fallback
}

// With attaches a logger to the context.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// From retrieves the context's logger, or the fallback.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
