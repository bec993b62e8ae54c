// ABOUTME: Ordered fallback chain resolving tenant identity for call handlers
// ABOUTME: Request-attached identity, then explicit session id, then ambient context

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/grimoire-gateway/internal/session"
)

// ErrUnknownConnection is returned when a session lookup finds no record
// for the supplied connection id.
var ErrUnknownConnection = errors.New("unknown or expired connection")

// ErrNoIdentity is returned when every resolution source is exhausted.
// Callers must abort; resolution never falls back to a default identity.
var ErrNoIdentity = errors.New("no tenant identity available")

// ErrIncompleteIdentity is returned when a resolved identity lacks the
// mandatory organization or environment id.
var ErrIncompleteIdentity = errors.New("incomplete tenant identity")

// SessionSource is the subset of the session store the resolver needs.
type SessionSource interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Request carries the per-call inputs a handler can offer the resolver.
type Request struct {
	// Identity is a fully-formed identity attached to the inbound
	// request, when the call arrived over a surface that carried tenant
	// headers directly.
	Identity *Identity

	// SessionID is an explicit connection id supplied by the caller.
	SessionID string
}

// source is one step of the resolution chain. A nil identity with a nil
// error means the source does not apply and the chain continues; an error
// aborts resolution.
type source func(ctx context.Context, req Request) (*Identity, error)

// Resolver recovers tenant identity for tool handlers via an ordered
// chain of sources, first success wins.
type Resolver struct {
	store  SessionSource
	logger *slog.Logger
	chain  []source
}

// NewResolver creates a Resolver backed by the given session source.
func NewResolver(store SessionSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:  store,
		logger: logger.With("component", "tenant-resolver"),
	}
	r.chain = []source{r.fromRequest, r.fromExplicitID, r.fromAmbient}
	return r
}

// Resolve returns the tenant identity for the current call. The chain:
//
//  1. identity attached to the request itself;
//  2. explicit session id, looked up in the store — an absent record is
//     a hard error, not a fall-through;
//  3. ambient identity installed at admission — consulted without a
//     store round-trip, so a transient store outage does not interrupt
//     calls on already-admitted connections.
//
// Exhausting the chain is an error. Resolution never substitutes a
// default or global identity.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Identity, error) {
	for _, src := range r.chain {
		id, err := src(ctx, req)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, ErrNoIdentity
}

// fromRequest uses an identity already attached to the inbound request.
func (r *Resolver) fromRequest(_ context.Context, req Request) (*Identity, error) {
	if req.Identity == nil {
		return nil, nil
	}
	if err := validateIdentity(req.Identity); err != nil {
		return nil, fmt.Errorf("request-attached identity: %w", err)
	}
	return req.Identity, nil
}

// fromExplicitID looks up an explicitly supplied connection id.
func (r *Resolver) fromExplicitID(ctx context.Context, req Request) (*Identity, error) {
	if req.SessionID == "" {
		return nil, nil
	}
	return r.lookup(ctx, req.SessionID)
}

// fromAmbient uses the identity installed for this connection's task tree.
// The ambient identity is complete by construction, so no store read is
// needed here; if it is somehow incomplete the session record is consulted.
func (r *Resolver) fromAmbient(ctx context.Context, _ Request) (*Identity, error) {
	id := FromContext(ctx)
	if id == nil {
		return nil, nil
	}
	if err := validateIdentity(id); err != nil {
		r.logger.Warn("ambient identity incomplete, consulting session store", "session_id", id.SessionID)
		return r.lookup(ctx, id.SessionID)
	}
	return id, nil
}

// lookup fetches a session record and converts it to an Identity.
// Store unavailability passes through distinct from a missing record.
func (r *Resolver) lookup(ctx context.Context, sessionID string) (*Identity, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving connection %s: %w", sessionID, err)
	}
	id := FromSession(sess)
	if err := validateIdentity(id); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return id, nil
}

// FromSession converts a stored session record into an Identity.
func FromSession(sess *session.Session) *Identity {
	return &Identity{
		OrgID:     sess.OrgID,
		EnvID:     sess.EnvID,
		SubOrgID:  sess.SubOrgID,
		SessionID: sess.ID,
		Scopes:    sess.Scopes,
	}
}

// validateIdentity checks the mandatory tenant fields.
func validateIdentity(id *Identity) error {
	if id.OrgID == "" || id.EnvID == "" {
		return ErrIncompleteIdentity
	}
	return nil
}
