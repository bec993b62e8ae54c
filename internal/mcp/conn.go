// ABOUTME: Per-connection state machine and the live connection manager.
// ABOUTME: Tracks admitted connections and guarantees session release at teardown.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

// State is the lifecycle state of one connection.
type State int

const (
	StateConnecting State = iota
	StateAdmitted
	StateActive
	StateClosing
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBadTransition indicates an illegal connection state transition, which
// is a programmer bug rather than a runtime condition.
var ErrBadTransition = errors.New("illegal connection state transition")

// ErrConnAlreadyRegistered indicates a connection id collision in the manager.
var ErrConnAlreadyRegistered = errors.New("connection already registered")

// ErrConnNotFound indicates the connection is not in the live table.
var ErrConnNotFound = errors.New("connection not found")

// validTransitions encodes the connection lifecycle. REJECTED and CLOSED
// are terminal.
var validTransitions = map[State][]State{
	StateConnecting: {StateAdmitted, StateRejected},
	StateAdmitted:   {StateActive, StateClosing},
	StateActive:     {StateClosing},
	StateClosing:    {StateClosed},
}

// Conn is one live connection's in-process tracking record. The stored
// session record is never mutated for state changes; state lives here only.
type Conn struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	identity *tenant.Identity
}

// NewConn creates a connection tracker in the CONNECTING state.
func NewConn(id string, identity *tenant.Identity) *Conn {
	return &Conn{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		state:     StateConnecting,
		identity:  identity,
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the tenant identity resolved at admission.
func (c *Conn) Identity() *tenant.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Transition moves the connection to the given state, enforcing the
// lifecycle graph.
func (c *Conn) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range validTransitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.state, to)
}

// CloseHook is invoked after a connection's session record and event
// stream have been released.
type CloseHook func(ctx context.Context, identity *tenant.Identity, reason string)

// Manager is the live connection table. It owns teardown: removing a
// connection always deletes its session record and closes its event
// stream, regardless of the triggering cause.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	store  session.Store
	events *Broadcaster
	logger *slog.Logger

	onClose CloseHook
}

// NewManager creates a connection manager backed by the given session store
// and event broadcaster.
func NewManager(store session.Store, events *Broadcaster, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:  make(map[string]*Conn),
		store:  store,
		events: events,
		logger: logger.With("component", "conn-manager"),
	}
}

// SetCloseHook installs a callback fired once per completed teardown.
// The hook is read by Teardown without synchronization, so it must be
// installed during wiring, before the manager serves any connection.
func (m *Manager) SetCloseHook(fn CloseHook) {
	m.onClose = fn
}

// Admit registers an admitted connection. The caller must already have
// written the session record; admission fails closed before this point.
func (m *Manager) Admit(conn *Conn) error {
	if err := conn.Transition(StateAdmitted); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConnAlreadyRegistered, conn.ID)
	}
	m.conns[conn.ID] = conn

	m.logger.Info("connection admitted",
		"session_id", conn.ID,
		"org_id", conn.Identity().OrgID,
		"env_id", conn.Identity().EnvID,
		"live_connections", len(m.conns),
	)
	return nil
}

// Activate marks a connection ACTIVE after the client's initialized
// notification. Activating an already-active connection is a no-op.
func (m *Manager) Activate(id string) error {
	conn, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, id)
	}
	if conn.State() == StateActive {
		return nil
	}
	return conn.Transition(StateActive)
}

// Get returns the live connection for id.
func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// List returns all live connections.
func (m *Manager) List() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Teardown releases a connection: it is removed from the live table, its
// session record is deleted, and its event stream is closed. The release
// steps run unconditionally once the connection is claimed, so a panic or
// error earlier in the call cannot leave a dangling entitlement record
// beyond its TTL. Tearing down an unknown id is a no-op.
func (m *Manager) Teardown(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := conn.Transition(StateClosing); err != nil {
		// Release proceeds regardless; the transition only tracks state.
		m.logger.Warn("teardown from unexpected state", "session_id", id, "state", conn.State().String())
	}

	deleteErr := m.store.Delete(ctx, id)
	if m.events != nil {
		m.events.CloseSession(id)
	}
	if err := conn.Transition(StateClosed); err != nil {
		m.logger.Warn("could not mark connection closed", "session_id", id, "state", conn.State().String())
	}

	if m.onClose != nil {
		m.onClose(ctx, conn.Identity(), reason)
	}

	m.logger.Info("connection closed",
		"session_id", id,
		"reason", reason,
		"live_connections", m.Len(),
	)

	if deleteErr != nil {
		return fmt.Errorf("deleting session %s: %w", id, deleteErr)
	}
	return nil
}

// RevokeSession tears down a connection on operator request. It satisfies
// the revoker interfaces of the admin tool pack and the ops API.
func (m *Manager) RevokeSession(ctx context.Context, id string) error {
	if _, ok := m.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, id)
	}
	return m.Teardown(ctx, id, "revoked")
}

// Shutdown tears down every live connection, releasing all session records
// before the server exits.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, conn := range m.List() {
		if err := m.Teardown(ctx, conn.ID, "server shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
