package o11y

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/beluga-voice/agentrt/core"
)

// LogWithSpanContext logs msg at level through the ctx-bound Logger (see
// [FromContext]), attaching the active span's trace_id/span_id and the
// session_id as attributes so log lines can be correlated with the span
// tree and the per-turn analytics payloads. Correlation attributes the ctx
// does not carry are omitted.
func LogWithSpanContext(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	logger := FromContext(ctx)

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		attrs = append(attrs, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if sessionID := core.GetSessionID(ctx); sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	switch level {
	case slog.LevelDebug:
		logger.Debug(ctx, msg, attrs...)
	case slog.LevelWarn:
		logger.Warn(ctx, msg, attrs...)
	case slog.LevelError:
		logger.Error(ctx, msg, attrs...)
	default:
		logger.Info(ctx, msg, attrs...)
	}
}
