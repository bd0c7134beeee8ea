package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"

	// TraceHeader is echoed back on every response.
	TraceHeader = "X-Trace-ID"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceID returns the trace ID stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, zerolog.Logger) {
	return withTraceID(ctx, GenerateTraceID())
}

func withTraceID(ctx context.Context, traceID string) (context.Context, zerolog.Logger) {
	l := FromContext(ctx).With().Str("trace_id", traceID).Logger()
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = NewContext(newCtx, l)
	return newCtx, l
}

// GinMiddleware attaches a traced logger to every request and logs its completion.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	httpLogger := base.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		ctx := NewContext(c.Request.Context(), httpLogger)
		ctx, l := withTraceID(ctx, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, traceID)

		c.Next()

		status := c.Writer.Status()
		event := l.Info()
		if status >= 500 {
			event = l.Error()
		} else if status >= 400 {
			event = l.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", c.ClientIP()).
			Msg("Request completed")
	}
}
