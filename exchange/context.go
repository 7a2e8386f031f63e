package exchange

import (
	"context"
	"go-exchange-rate-gateway/ratelimit"
)

type contextKey int

const (
	clientIDKey contextKey = iota
	admissionKey
)

// AnonymousClient is the bucket used when no client identifier is known.
const AnonymousClient = "anonymous"

// WithClientID returns a copy of ctx carrying the caller's identifier.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the caller's identifier, or AnonymousClient.
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok && id != "" {
		return id
	}
	return AnonymousClient
}

// WithAdmission returns a copy of ctx in which the rate limiting decorator
// records its decision into result.
func WithAdmission(ctx context.Context, result *ratelimit.Result) context.Context {
	return context.WithValue(ctx, admissionKey, result)
}

func recordAdmission(ctx context.Context, result ratelimit.Result) {
	if r, ok := ctx.Value(admissionKey).(*ratelimit.Result); ok && r != nil {
		*r = result
	}
}
