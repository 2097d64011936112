package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the transport request ID
	RequestIDKey ContextKey = "request_id"
	// ClientIDKey is the context key for the gateway client ID
	ClientIDKey ContextKey = "client_id"
	// MethodKey is the context key for the command name
	MethodKey ContextKey = "method"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	ClientID  string
	Method    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithClientID adds a gateway client ID to the context
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// WithMethod adds the command name to the context
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func getString(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetClientID retrieves the gateway client ID from the context
func GetClientID(ctx context.Context) string {
	return getString(ctx, ClientIDKey)
}

// GetMethod retrieves the command name from the context
func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		ClientID:  GetClientID(ctx),
		Method:    GetMethod(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.ClientID != "" {
		ctx = WithClientID(ctx, tc.ClientID)
	}
	if tc.Method != "" {
		ctx = WithMethod(ctx, tc.Method)
	}
	return ctx
}

// LoggerFromContext returns baseLogger annotated with the trace fields set
// on ctx. Unset fields are omitted.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	for _, f := range [...]struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"requestId", tc.RequestID},
		{"clientId", tc.ClientID},
		{"method", tc.Method},
	} {
		if f.value != "" {
			lc = lc.Str(f.key, f.value)
		}
	}
	return lc.Logger()
}
