package obscontext

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type requestIDKey struct{}
type clientIPKey struct{}
type userAgentKey struct{}

// WithRequestID stores the request correlation id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request correlation id, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

// EnsureRequestID guarantees a correlation id on the context, generating a
// ULID when missing.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = NewRequestID()
	}
	return WithRequestID(ctx, requestID), requestID
}

// NewRequestID generates a fresh correlation id.
func NewRequestID() string {
	return ulid.Make().String()
}

// WithClientIP stores the caller address for audit detail.
func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the caller address, if any.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(clientIPKey{}).(string); ok {
		return value
	}
	return ""
}

// WithUserAgent stores the caller user agent for audit detail.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// UserAgentFromContext returns the caller user agent, if any.
func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(userAgentKey{}).(string); ok {
		return value
	}
	return ""
}
