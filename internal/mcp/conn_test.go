// ABOUTME: Tests for the connection state machine and live connection manager
// ABOUTME: Covers transition legality and guaranteed session release at teardown

package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

func testIdentity(id string) *tenant.Identity {
	return &tenant.Identity{
		OrgID:     "acme",
		EnvID:     "production",
		SessionID: id,
	}
}

func TestConnTransitions(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		c := NewConn("c1", testIdentity("c1"))
		if got := c.State(); got != StateConnecting {
			t.Fatalf("initial state = %v, want connecting", got)
		}
		for _, to := range []State{StateAdmitted, StateActive, StateClosing, StateClosed} {
			if err := c.Transition(to); err != nil {
				t.Fatalf("transition to %v: %v", to, err)
			}
		}
	})

	t.Run("rejection is terminal", func(t *testing.T) {
		c := NewConn("c2", nil)
		if err := c.Transition(StateRejected); err != nil {
			t.Fatalf("transition to rejected: %v", err)
		}
		if err := c.Transition(StateAdmitted); !errors.Is(err, ErrBadTransition) {
			t.Fatalf("transition out of rejected = %v, want ErrBadTransition", err)
		}
	})

	t.Run("illegal jumps", func(t *testing.T) {
		cases := []struct {
			from, to State
		}{
			{StateConnecting, StateActive},
			{StateConnecting, StateClosed},
			{StateAdmitted, StateClosed},
			{StateClosed, StateActive},
			{StateActive, StateAdmitted},
		}
		for _, tc := range cases {
			c := NewConn("c3", nil)
			c.state = tc.from
			if err := c.Transition(tc.to); !errors.Is(err, ErrBadTransition) {
				t.Errorf("%v -> %v = %v, want ErrBadTransition", tc.from, tc.to, err)
			}
		}
	})
}

func newTestManager(t *testing.T) (*Manager, session.Store, *Broadcaster) {
	t.Helper()
	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	events := NewBroadcaster(nil)
	t.Cleanup(events.Close)
	return NewManager(store, events, nil), store, events
}

func admitTestConn(t *testing.T, m *Manager, store session.Store, id string) *Conn {
	t.Helper()
	ctx := context.Background()
	if err := store.Put(ctx, &session.Session{ID: id, OrgID: "acme", EnvID: "production"}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	conn := NewConn(id, testIdentity(id))
	if err := m.Admit(conn); err != nil {
		t.Fatalf("admit: %v", err)
	}
	return conn
}

func TestManagerAdmit(t *testing.T) {
	m, store, _ := newTestManager(t)

	conn := admitTestConn(t, m, store, "s1")
	if got := conn.State(); got != StateAdmitted {
		t.Fatalf("state after admit = %v, want admitted", got)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	dup := NewConn("s1", testIdentity("s1"))
	if err := m.Admit(dup); !errors.Is(err, ErrConnAlreadyRegistered) {
		t.Fatalf("duplicate admit = %v, want ErrConnAlreadyRegistered", err)
	}
}

func TestManagerActivateIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t)
	conn := admitTestConn(t, m, store, "s1")

	if err := m.Activate("s1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := m.Activate("s1"); err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if got := conn.State(); got != StateActive {
		t.Fatalf("state = %v, want active", got)
	}

	if err := m.Activate("nope"); !errors.Is(err, ErrConnNotFound) {
		t.Fatalf("activate unknown = %v, want ErrConnNotFound", err)
	}
}

func TestManagerTeardownReleasesEverything(t *testing.T) {
	m, store, events := newTestManager(t)
	ctx := context.Background()
	admitTestConn(t, m, store, "s1")

	sub, _ := events.Subscribe(ctx, "s1")

	if err := m.Teardown(ctx, "s1", "test"); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	if _, ok := m.Get("s1"); ok {
		t.Error("connection still in live table after teardown")
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session record after teardown: err = %v, want ErrNotFound", err)
	}
	if _, open := <-sub; open {
		t.Error("event stream still open after teardown")
	}
}

func TestManagerTeardownTwiceIsNoop(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	admitTestConn(t, m, store, "s1")

	if err := m.Teardown(ctx, "s1", "first"); err != nil {
		t.Fatalf("first teardown: %v", err)
	}
	if err := m.Teardown(ctx, "s1", "second"); err != nil {
		t.Fatalf("second teardown should be a no-op, got %v", err)
	}
	if err := m.Teardown(ctx, "never-existed", "x"); err != nil {
		t.Fatalf("teardown of unknown id should be a no-op, got %v", err)
	}
}

func TestManagerCloseHook(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	var hookReason string
	var hookOrg string
	m.SetCloseHook(func(_ context.Context, identity *tenant.Identity, reason string) {
		hookReason = reason
		hookOrg = identity.OrgID
	})

	admitTestConn(t, m, store, "s1")
	if err := m.Teardown(ctx, "s1", "revoked"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if hookReason != "revoked" || hookOrg != "acme" {
		t.Fatalf("close hook got (%q, %q), want (revoked, acme)", hookReason, hookOrg)
	}
}

func TestManagerRevokeSession(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	admitTestConn(t, m, store, "s1")

	if err := m.RevokeSession(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := m.Get("s1"); ok {
		t.Error("connection still live after revoke")
	}
	if err := m.RevokeSession(ctx, "s1"); !errors.Is(err, ErrConnNotFound) {
		t.Fatalf("revoke of gone session = %v, want ErrConnNotFound", err)
	}
}

func TestManagerShutdown(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		admitTestConn(t, m, store, id)
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("Len after shutdown = %d, want 0", m.Len())
	}
	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("%d session records remain after shutdown, want 0", len(sessions))
	}
}
