package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns a logger enriched with any trace, turn, session
// and provider identifiers present on the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	logger := base

	if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}
	if turnID := GetTurnID(ctx); turnID != "" {
		logger = logger.With().Str("turn_id", turnID).Logger()
	}
	if sessionKey := GetSessionKey(ctx); sessionKey != "" {
		logger = logger.With().Str("session_key", sessionKey).Logger()
	}
	if providerID := GetProviderID(ctx); providerID != "" {
		logger = logger.With().Str("provider_id", providerID).Logger()
	}

	return logger
}
