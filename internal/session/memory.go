// ABOUTME: In-memory implementation of the session Store for dev and tests
// ABOUTME: TTL-keyed map with a background janitor; expiry checked on every read

package session

import (
	"context"
	"sync"
	"time"
)

// memoryEntry pairs a stored record with its absolute expiry instant.
type memoryEntry struct {
	sess      *Session
	expiresAt time.Time
}

// MemoryStore implements Store with a process-local TTL map. It mirrors
// the semantics of the Redis store closely enough for development and
// testing: expiry is decided per key at read time, and a background
// janitor reclaims expired entries.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates an in-memory session store with a janitor
// goroutine sweeping expired entries once a minute.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Put writes the record with its TTL.
func (m *MemoryStore) Put(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	m.entries[sess.ID] = &memoryEntry{
		sess:      sess.Clone(),
		expiresAt: m.now().Add(effectiveTTL(sess)),
	}
	return nil
}

// Get returns a copy of the record, or ErrNotFound if absent or expired.
// Expired entries are removed eagerly so a read after TTL never succeeds
// regardless of janitor timing.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	entry, ok := m.entries[id]
	expired := ok && !m.now().Before(entry.expiresAt)
	m.mu.RUnlock()

	if expired {
		m.mu.Lock()
		// Re-check under the write lock; a re-admission may have replaced it.
		if cur, still := m.entries[id]; still && !m.now().Before(cur.expiresAt) {
			delete(m.entries, id)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if !ok {
		return nil, ErrNotFound
	}
	return entry.sess.Clone(), nil
}

// Delete removes the record. Missing keys are not an error.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// List returns copies of all unexpired records.
func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []*Session
	now := m.now()
	for _, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			continue
		}
		sessions = append(sessions, entry.sess.Clone())
	}
	return sessions, nil
}

// Ping always succeeds while the store is open.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// janitor periodically sweeps expired entries.
func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, id)
		}
	}
}

// Close stops the janitor. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
