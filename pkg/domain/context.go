package domain

import (
	"context"
)

type contextKey string

const (
	connectionIDKey contextKey = "connection_id"
	identityKey     contextKey = "verified_identity"
)

// WithConnectionID attaches the origin connection id to a context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// ConnectionIDFromContext returns the origin connection id of an event
func ConnectionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connectionIDKey).(string)
	return id, ok && id != ""
}

// WithVerifiedIdentity attaches an auth-verified subject to a context
func WithVerifiedIdentity(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, identityKey, subject)
}

// VerifiedIdentityFromContext returns the auth-verified subject, if the
// connection presented a token at upgrade time.
func VerifiedIdentityFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(identityKey).(string)
	return subject, ok && subject != ""
}
