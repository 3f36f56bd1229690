package obs

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logPtr struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logPtr{}, logger)
}

// Log returns the logger stored in ctx, or the global zerolog logger.
func Log(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &log.Logger
	}
	logger, ok := ctx.Value(logPtr{}).(*zerolog.Logger)
	if !ok || logger == nil {
		return &log.Logger
	}
	return logger
}
