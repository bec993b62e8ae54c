// ABOUTME: Ambient tenant identity carried through request handlers via context
// ABOUTME: Provides WithIdentity/FromContext for propagating identity without parameter threading

package tenant

import (
	"context"
	"strings"
)

// Identity holds the tenant identity resolved for one connection.
// It is installed into the context at admission (and re-installed per
// request after session validation) and retrieved by any handler code
// executing on behalf of that connection. Identity values are never
// stored on shared objects; each connection's task tree carries its own.
type Identity struct {
	OrgID     string   // organization identifier (required)
	EnvID     string   // environment identifier (required)
	SubOrgID  string   // optional sub-organization discriminator
	SessionID string   // owning connection's session id
	Scopes    []string // granted scopes; nil means unrestricted
}

// Unrestricted reports whether this identity declared no scope restriction.
func (id *Identity) Unrestricted() bool {
	return id.Scopes == nil
}

// HasScope reports whether the given scope was granted. Comparison is
// case-insensitive because scopes are normalized to lowercase at parse.
func (id *Identity) HasScope(scope string) bool {
	if id.Scopes == nil {
		return true
	}
	want := strings.ToLower(scope)
	for _, s := range id.Scopes {
		if s == want {
			return true
		}
	}
	return false
}

// identityContextKey is the key type for storing Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityContextKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("tenant: Identity not found in context")
	}
	return id
}
