package domain

import "context"

// Principal is the authenticated identity attached to a request by the
// authentication middleware, derived from a validated access token.
type Principal struct {
	UserID string
	Role   string
}

type principalContextKey struct{}

// ContextWithPrincipal returns a child context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}
