package common

import (
	"context"
	"slices"
)

// Caller is the identity established by a verified access token. Guests have
// no Caller on their context and authorise with cart secrets instead.
type Caller struct {
	UserID string
	Roles  []string
}

type callerKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored on ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != ""
}

// WithUserID stores a caller with no roles.
func WithUserID(ctx context.Context, id string) context.Context {
	return WithCaller(ctx, Caller{UserID: id})
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	c, ok := CallerFrom(ctx)
	return c.UserID, ok
}

// HasRole reports whether the authenticated caller carries role.
func HasRole(ctx context.Context, role string) bool {
	c, ok := CallerFrom(ctx)
	return ok && slices.Contains(c.Roles, role)
}
