// Package logging provides the orchestrator's structured logger, threaded
// through context.Context the way the teacher repo threads a package-level
// *log.Logger — but generalized to leveled, structured fields so every
// component logs "component=scheduler agent_id=... task_id=..." instead of
// formatting ad-hoc strings.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New builds the root logger. pretty selects the human-readable console
// writer (development); otherwise JSON lines go to w (production).
func New(w io.Writer, pretty bool, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From retrieves the logger attached to ctx, or a disabled logger if none
// was attached (never nil, so callers never need a nil check).
func From(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// Component returns a child logger scoped with component=name.
func Component(ctx context.Context, name string) zerolog.Logger {
	return From(ctx).With().Str("component", name).Logger()
}
