// ABOUTME: Redis implementation of the session Store using go-redis
// ABOUTME: Records are JSON values under a key prefix with per-key TTL expiry

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys in a shared Redis.
const DefaultKeyPrefix = "grimoire:session:"

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store on a Redis server. Expiry is enforced by
// Redis key TTLs; no in-process timers exist.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed session store. The connection is
// established lazily; use Ping to probe reachability.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "session-store"),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Put writes the session record with its TTL.
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), payload, effectiveTTL(sess)).Err(); err != nil {
		return fmt.Errorf("%w: writing session %s: %v", ErrUnavailable, sess.ID, err)
	}
	s.logger.Debug("session stored", "session_id", sess.ID, "org_id", sess.OrgID, "ttl", effectiveTTL(sess))
	return nil
}

// Get returns the session for id, ErrNotFound if the key is absent or
// expired, or ErrUnavailable on any transport failure.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading session %s: %v", ErrUnavailable, id, err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	return &sess, nil
}

// Delete removes the session record. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: deleting session %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

// List scans the key prefix and returns all live session records.
func (s *RedisStore) List(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing sessions: %v", ErrUnavailable, err)
		}
		var sess Session
		if err := json.Unmarshal(payload, &sess); err != nil {
			s.logger.Warn("skipping corrupt session record", "key", iter.Val(), "error", err)
			continue
		}
		sessions = append(sessions, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning sessions: %v", ErrUnavailable, err)
	}
	return sessions, nil
}

// Ping probes store reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
