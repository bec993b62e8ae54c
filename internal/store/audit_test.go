// ABOUTME: Tests for audit log persistence and filtered listing
// ABOUTME: Uses an in-memory SQLite database per test

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAuditLogGeneratesIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &AuditEntry{
		OrgID:     "acme",
		EnvID:     "production",
		SessionID: "sess-1",
		Action:    AuditSessionAdmitted,
		Detail:    "scopes=unrestricted",
	}
	require.NoError(t, s.AppendAuditLog(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	entries, err := s.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "acme", entries[0].OrgID)
	assert.Equal(t, AuditSessionAdmitted, entries[0].Action)
	assert.Equal(t, "scopes=unrestricted", entries[0].Detail)
}

func TestAppendAuditLogRejectsUnknownAction(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendAuditLog(context.Background(), &AuditEntry{
		OrgID:     "acme",
		EnvID:     "production",
		SessionID: "sess-1",
		Action:    AuditAction("made_up_action"),
	})
	assert.Error(t, err)
}

func TestListAuditLogFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []*AuditEntry{
		{OrgID: "acme", EnvID: "production", SessionID: "sess-1", Action: AuditSessionAdmitted, Timestamp: base},
		{OrgID: "acme", EnvID: "production", SessionID: "sess-1", Action: AuditToolCalled, ToolName: "ping", Timestamp: base.Add(time.Minute)},
		{OrgID: "acme", EnvID: "staging", SessionID: "sess-2", Action: AuditSessionAdmitted, Timestamp: base.Add(2 * time.Minute)},
		{OrgID: "globex", EnvID: "production", SessionID: "sess-3", Action: AuditSessionRejected, Timestamp: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAuditLog(ctx, e))
	}

	t.Run("by org", func(t *testing.T) {
		org := "acme"
		got, err := s.ListAuditLog(ctx, AuditFilter{OrgID: &org})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("by org and env", func(t *testing.T) {
		org, env := "acme", "staging"
		got, err := s.ListAuditLog(ctx, AuditFilter{OrgID: &org, EnvID: &env})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "sess-2", got[0].SessionID)
	})

	t.Run("by session", func(t *testing.T) {
		sess := "sess-1"
		got, err := s.ListAuditLog(ctx, AuditFilter{SessionID: &sess})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by action", func(t *testing.T) {
		action := AuditSessionRejected
		got, err := s.ListAuditLog(ctx, AuditFilter{Action: &action})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "globex", got[0].OrgID)
	})

	t.Run("by time range", func(t *testing.T) {
		since := base.Add(90 * time.Second)
		got, err := s.ListAuditLog(ctx, AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("newest first", func(t *testing.T) {
		got, err := s.ListAuditLog(ctx, AuditFilter{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, AuditSessionRejected, got[0].Action)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.ListAuditLog(ctx, AuditFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestListAuditLogEmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
