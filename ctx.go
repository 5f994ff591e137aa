package passport

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the verified token claims in the given context. The
// token's user snapshot is stored as the context user as well.
func WithClaimsContext(ctx context.Context, claims *UserClaims) context.Context {
	ctx = context.WithValue(ctx, claimsCtxKey, claims)
	if claims != nil && claims.User != nil {
		ctx = WithContext(ctx, claims.User)
	}
	return ctx
}

// ClaimsFromContext extracts the verified token claims.
func ClaimsFromContext(ctx context.Context) (*UserClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*UserClaims)
	return raw, ok && raw != nil
}
