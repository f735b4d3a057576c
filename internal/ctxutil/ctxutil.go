// Package ctxutil provides shared context key accessors.
//
// This package exists to break a circular dependency: the optional SSE
// transport authenticates a request and needs to stash the caller's
// identity somewhere the mcp package can read it back out, without mcp
// importing the transport package or vice versa.
package ctxutil

import (
	"context"

	"github.com/veridocs/consolidator/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims. A nil claims
// (stdio transport, no auth boundary) is a valid, explicit no-op value.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the caller's claims from the context, or nil
// when the request came in over stdio or the SSE transport has no auth
// configured.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}
