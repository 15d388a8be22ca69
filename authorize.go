package huddle

import "context"

// Identity is the authenticated caller of a command.
type Identity struct {
	UserID string
}

// Resource names what a command acts on.
type Resource struct {
	// Kind is the resource kind, e.g. "match".
	Kind string

	// ID is the resource identifier.
	ID string

	// GroupID is the owning group, used for group-role checks.
	GroupID string
}

// Authorizer decides whether an identity may act on a resource.
// Command handlers call it before invoking aggregate operations; aggregates
// never check permissions themselves.
type Authorizer interface {
	Authorize(ctx context.Context, who Identity, what Resource) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, who Identity, what Resource) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, who Identity, what Resource) error {
	return f(ctx, who, what)
}

// AllowAll is an Authorizer that accepts every request.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, Identity, Resource) error { return nil })

type identityKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity in ctx.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Guard authorizes the identity in ctx against what.
// A missing identity is rejected with ErrUnauthorized.
func Guard(ctx context.Context, authz Authorizer, what Resource) error {
	who, ok := IdentityFromContext(ctx)
	if !ok {
		return &UnauthorizedError{Resource: what, Reason: "no authenticated identity"}
	}
	if authz == nil {
		return nil
	}
	return authz.Authorize(ctx, who, what)
}
