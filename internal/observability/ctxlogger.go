package observability

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type correlationIDKey struct{}

// WithCorrelationID attaches a correlation ID to ctx, generating one with
// google/uuid if none is supplied. Loggers obtained from LoggerWithTrace on
// the returned ctx carry it as the correlation_id field; no binary in this
// module calls it.
func WithCorrelationID(ctx context.Context, id string) (context.Context, string) {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey{}, id), id
}

// CorrelationID returns the correlation ID stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// LoggerWithTrace returns a zerolog.Logger enriched with the correlation ID
// carried on ctx, if any.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if id := CorrelationID(ctx); id != "" {
		l = l.With().Str("correlation_id", id).Logger()
	}
	return &l
}
