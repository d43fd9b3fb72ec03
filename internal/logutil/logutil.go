// Package logutil wires up the process-wide slog handler.
package logutil

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// LevelTrace is one notch below slog.LevelDebug. The worker's transport
// loop logs at this level on every PLAN_STEP; it is off unless
// DISTLLAMA_TRACE is set.
const LevelTrace = slog.LevelDebug - 4

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

// NewLogger builds the package-wide logger. Level is Info by default,
// Debug when DISTLLAMA_DEBUG is set, Trace when DISTLLAMA_TRACE is set.
func NewLogger(w *os.File) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DISTLLAMA_TRACE") != "" {
		level = LevelTrace
	} else if os.Getenv("DISTLLAMA_DEBUG") != "" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if name, ok := levelNames[level]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}

	// A real terminal gets no timestamp at all; a redirected log
	// (journald, a file) keeps the handler's full time stamp.
	if term.IsTerminal(int(w.Fd())) {
		opts.ReplaceAttr = chain(opts.ReplaceAttr, dropDate)
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func chain(fns ...func([]string, slog.Attr) slog.Attr) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			a = fn(groups, a)
		}
		return a
	}
}

func dropDate(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = ""
	}
	return a
}

// Trace logs at LevelTrace.
func Trace(ctx context.Context, msg string, args ...any) {
	slog.Default().Log(ctx, LevelTrace, msg, args...)
}
