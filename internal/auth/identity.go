package auth

import "context"

// Identity is the authenticated caller of a request. The zero value means
// anonymous.
type Identity struct {
	UserID   int
	Username string
}

func (i Identity) Anonymous() bool { return i.UserID == 0 }

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.Anonymous() {
		return Identity{}, false
	}
	return id, true
}
