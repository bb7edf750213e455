package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// WithContext returns a context carrying the logger
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContextOr returns the logger carried by ctx, falling back to the given
// logger when none is attached. A nil fallback degrades to a no-op logger.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

// WithSession enriches the logger with the authenticated session's identity
// and attaches it to the context, so every log line written under the session
// carries tenant_id and user_id.
func WithSession(ctx context.Context, logger *zap.Logger, tenantID, userID string) (context.Context, *zap.Logger) {
	enriched := logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID),
	)
	return WithContext(ctx, enriched), enriched
}

// WithProject enriches the logger with the selected project lens and attaches
// it to the context. The segment is a project ID or "all".
func WithProject(ctx context.Context, logger *zap.Logger, projectSegment string) (context.Context, *zap.Logger) {
	enriched := logger.With(zap.String("project", projectSegment))
	return WithContext(ctx, enriched), enriched
}
