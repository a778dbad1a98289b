package api

import "context"

// Role names for dashboard callers.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type contextKey int

const ctxKeyIdentity contextKey = 0

// Identity is the authenticated caller attached to a request context by
// the auth middleware.
type Identity struct {
	Subject string
	Role    string
}

// ContextWithIdentity attaches the caller identity to ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFrom returns the caller identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

func isAdmin(ctx context.Context) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.Role == RoleAdmin
}
