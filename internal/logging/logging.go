// Package logging carries zerolog loggers through context.Context so that
// every line emitted while handling one Telegram update or HTTP request
// shares the same trace_id.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init replaces the global logger. Pretty selects a human-readable console
// writer for local development; the level is set separately by
// sysutil.SetLogLevel.
func Init(pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Context returns ctx carrying a logger with a fresh trace_id plus fields.
func Context(ctx context.Context, fields map[string]any) context.Context {
	l := Ctx(ctx).With().Str("trace_id", uuid.NewString()).Fields(fields).Logger()
	return l.WithContext(ctx)
}

// WithUser attaches the Telegram user to the logger stored in ctx.
func WithUser(ctx context.Context, userID int64, username string) context.Context {
	b := Ctx(ctx).With().Int64("user_id", userID)
	if username != "" {
		b = b.Str("username", username)
	}
	l := b.Logger()
	return l.WithContext(ctx)
}

// Ctx extracts the logger from ctx or returns the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &log.Logger
}

// Snippet returns at most n runes of s, marking truncation with an ellipsis.
func Snippet(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
