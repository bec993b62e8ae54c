// ABOUTME: Session record types and the Store interface for connection entitlements
// ABOUTME: Defines the TTL-keyed record written once at admission and deleted at teardown

package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session record does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrUnavailable is returned when the session store cannot be reached.
// Kept distinct from ErrNotFound: an unreachable store must never be
// read as "no such session".
var ErrUnavailable = errors.New("session store unavailable")

// DefaultTTL is the session lifetime applied when a record carries none.
// The store's TTL mechanism is the sole authority for expiry; the TTL is
// set at write time and refreshed only by re-admission, never by activity.
const DefaultTTL = time.Hour

// Session is the entitlement record for one live connection.
// It is written exactly once at admission and never mutated afterwards;
// teardown deletes it, or the store expires it after TTL.
type Session struct {
	ID              string            `json:"id"`
	OrgID           string            `json:"org_id"`
	EnvID           string            `json:"env_id"`
	SubOrgID        string            `json:"sub_org_id,omitempty"`
	Scopes          []string          `json:"scopes"` // nil = unrestricted, [] = none granted
	Metadata        map[string]string `json:"metadata,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`

	// TTL is the lifetime applied at write time. Zero means DefaultTTL.
	// Not persisted; the store tracks expiry itself.
	TTL time.Duration `json:"-"`
}

// Clone returns a deep copy so callers can never alias store-held state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Scopes != nil {
		out.Scopes = make([]string, len(s.Scopes))
		copy(out.Scopes, s.Scopes)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Store is the external TTL-keyed key/value store holding session records.
// Implementations must support concurrent access to disjoint keys without
// cross-key interference.
type Store interface {
	// Put writes the record with its TTL (DefaultTTL when zero).
	Put(ctx context.Context, sess *Session) error

	// Get returns the record for id, ErrNotFound if absent or expired,
	// or ErrUnavailable if the store cannot be reached.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all live records, for operator inspection.
	List(ctx context.Context) ([]*Session, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// effectiveTTL resolves the TTL to apply at write time.
func effectiveTTL(sess *Session) time.Duration {
	if sess.TTL > 0 {
		return sess.TTL
	}
	return DefaultTTL
}
