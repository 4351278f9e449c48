package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ctxKeyLogger contextKey = "logger"

// LogFromContext returns the request-scoped logger, falling back to the
// global logger when none is attached.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*zerolog.Logger); ok && l != nil {
		return l
	}

	return &log.Logger
}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, &l)
}
