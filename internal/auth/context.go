// Package auth provides request identity helpers.
//
// Kerf is called by the application backend with a shared service token.
// The backend names the end user it is acting for in the X-User-ID header;
// the token middleware stores that id here so handlers and the quota gate
// can read it without importing middleware.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// UserIDHeader names the end user a service request acts for.
const UserIDHeader = "X-User-ID"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// userIDContextKey is the key used to store the acting user id in context.
	userIDContextKey contextKey = "user_id"
)

// GetUserID retrieves the acting user id from the context.
//
// Returns "" if the request did not name a user.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// GetUserIDFromRequest is a convenience wrapper around GetUserID that takes
// the request directly.
func GetUserIDFromRequest(r *http.Request) string {
	return GetUserID(r.Context())
}

// SetUserID stores the acting user id in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
