// Package auth carries the signed-in user from the session cookie into the
// request context.
//
// Example usage in a handler:
//
//	userID, ok := auth.UserIDFromContext(r.Context())
//	if !ok {
//	    // anonymous request
//	}
package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

var userIDKey = contextKey{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the signed-in user, or uuid.Nil and false for
// anonymous requests.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// UserIDPtrFromContext is UserIDFromContext for callers that store a nullable user.
func UserIDPtrFromContext(ctx context.Context) *uuid.UUID {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return nil
	}
	return &id
}
