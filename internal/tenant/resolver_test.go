// ABOUTME: Tests for the ordered identity resolution chain
// ABOUTME: Verifies source priority, hard failures, and store-outage passthrough

package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/grimoire-gateway/internal/session"
)

// stubSource is a canned session source for resolver tests.
type stubSource struct {
	sessions map[string]*session.Session
	err      error
}

func (s *stubSource) Get(ctx context.Context, id string) (*session.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func newTestResolver(source *stubSource) *Resolver {
	return NewResolver(source, nil)
}

func TestResolverRequestIdentityWins(t *testing.T) {
	// A request-attached identity takes priority over both the session id
	// and any ambient identity.
	source := &stubSource{sessions: map[string]*session.Session{
		"sess-1": {ID: "sess-1", OrgID: "from-store", EnvID: "production"},
	}}
	r := newTestResolver(source)

	ctx := WithIdentity(context.Background(), &Identity{OrgID: "ambient", EnvID: "production"})
	got, err := r.Resolve(ctx, Request{
		Identity:  &Identity{OrgID: "from-request", EnvID: "production"},
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-request", got.OrgID)
}

func TestResolverExplicitSessionID(t *testing.T) {
	source := &stubSource{sessions: map[string]*session.Session{
		"sess-1": {ID: "sess-1", OrgID: "acme", EnvID: "production", SubOrgID: "widgets", Scopes: []string{"alpha"}},
	}}
	r := newTestResolver(source)

	got, err := r.Resolve(context.Background(), Request{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.OrgID)
	assert.Equal(t, "widgets", got.SubOrgID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, []string{"alpha"}, got.Scopes)
}

func TestResolverUnknownSessionIsHardError(t *testing.T) {
	// An explicit session id that resolves to nothing must fail, not fall
	// through to the ambient identity.
	r := newTestResolver(&stubSource{})

	ctx := WithIdentity(context.Background(), &Identity{OrgID: "ambient", EnvID: "production"})
	_, err := r.Resolve(ctx, Request{SessionID: "gone"})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestResolverAmbientFallback(t *testing.T) {
	r := newTestResolver(&stubSource{})

	ctx := WithIdentity(context.Background(), &Identity{OrgID: "acme", EnvID: "production", SessionID: "sess-1"})
	got, err := r.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.OrgID)
}

func TestResolverAmbientNeedsNoStoreRoundTrip(t *testing.T) {
	// A complete ambient identity resolves even when the store is down.
	r := newTestResolver(&stubSource{err: session.ErrUnavailable})

	ctx := WithIdentity(context.Background(), &Identity{OrgID: "acme", EnvID: "production", SessionID: "sess-1"})
	got, err := r.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.OrgID)
}

func TestResolverExhaustedChain(t *testing.T) {
	r := newTestResolver(&stubSource{})

	_, err := r.Resolve(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestResolverStoreOutagePassesThrough(t *testing.T) {
	r := newTestResolver(&stubSource{err: session.ErrUnavailable})

	_, err := r.Resolve(context.Background(), Request{SessionID: "sess-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUnknownConnection, "outage must stay distinct from unknown connection")
}

func TestResolverRejectsIncompleteIdentity(t *testing.T) {
	t.Run("request-attached", func(t *testing.T) {
		r := newTestResolver(&stubSource{})
		_, err := r.Resolve(context.Background(), Request{Identity: &Identity{OrgID: "acme"}})
		assert.ErrorIs(t, err, ErrIncompleteIdentity)
	})

	t.Run("stored record", func(t *testing.T) {
		source := &stubSource{sessions: map[string]*session.Session{
			"sess-1": {ID: "sess-1", OrgID: "acme"}, // no env
		}}
		r := newTestResolver(source)
		_, err := r.Resolve(context.Background(), Request{SessionID: "sess-1"})
		assert.ErrorIs(t, err, ErrIncompleteIdentity)
	})
}
