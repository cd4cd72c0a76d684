package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/basejwt/internal/token"
)

type ctxKey string

const principalKey ctxKey = "basejwt.principal"

// principal is the verified caller of a bearer-protected method.
type principal struct {
	userID uuid.UUID
	claims *token.Claims
}

// WithPrincipal stores the authenticated user and the claims of their access token.
func WithPrincipal(ctx context.Context, id uuid.UUID, claims *token.Claims) context.Context {
	return context.WithValue(ctx, principalKey, principal{userID: id, claims: claims})
}

// UserIDFromCtx fetches the authenticated user ID.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	if !ok || p.userID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.userID, true
}

// ClaimsFromCtx fetches the verified access token claims.
func ClaimsFromCtx(ctx context.Context) (*token.Claims, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	if !ok || p.claims == nil {
		return nil, false
	}
	return p.claims, true
}
