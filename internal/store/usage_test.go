// ABOUTME: Tests for tool usage persistence and aggregation
// ABOUTME: Uses an in-memory SQLite database per test

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveUsageAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &ToolUsage{
		SessionID:  "sess-1",
		OrgID:      "acme",
		EnvID:      "production",
		ToolName:   "session_info",
		DurationMs: 42,
	}
	require.NoError(t, s.SaveUsage(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := s.ListUsage(ctx, UsageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "session_info", got[0].ToolName)
	assert.Equal(t, int64(42), got[0].DurationMs)
	assert.False(t, got[0].IsError)
}

func TestGetUsageStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	records := []*ToolUsage{
		{SessionID: "s1", OrgID: "acme", EnvID: "production", ToolName: "ping", DurationMs: 10, CreatedAt: base},
		{SessionID: "s1", OrgID: "acme", EnvID: "production", ToolName: "ping", DurationMs: 30, IsError: true, CreatedAt: base.Add(time.Minute)},
		{SessionID: "s2", OrgID: "acme", EnvID: "staging", ToolName: "session_info", DurationMs: 20, CreatedAt: base.Add(2 * time.Minute)},
		{SessionID: "s3", OrgID: "globex", EnvID: "production", ToolName: "ping", DurationMs: 100, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, u := range records {
		require.NoError(t, s.SaveUsage(ctx, u))
	}

	t.Run("all", func(t *testing.T) {
		stats, err := s.GetUsageStats(ctx, UsageFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.CallCount)
		assert.Equal(t, int64(1), stats.ErrorCount)
		assert.Equal(t, int64(160), stats.TotalMs)
		assert.InDelta(t, 40.0, stats.AvgDurationMs, 0.001)
	})

	t.Run("by org", func(t *testing.T) {
		org := "acme"
		stats, err := s.GetUsageStats(ctx, UsageFilter{OrgID: &org})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.CallCount)
		assert.Equal(t, int64(60), stats.TotalMs)
	})

	t.Run("by tool", func(t *testing.T) {
		tool := "ping"
		stats, err := s.GetUsageStats(ctx, UsageFilter{ToolName: &tool})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.CallCount)
	})

	t.Run("by time range", func(t *testing.T) {
		since := base.Add(90 * time.Second)
		until := base.Add(4 * time.Minute)
		stats, err := s.GetUsageStats(ctx, UsageFilter{Since: &since, Until: &until})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.CallCount)
	})

	t.Run("empty result has zero average", func(t *testing.T) {
		org := "nonexistent"
		stats, err := s.GetUsageStats(ctx, UsageFilter{OrgID: &org})
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.CallCount)
		assert.Equal(t, 0.0, stats.AvgDurationMs)
	})
}

func TestListUsageNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveUsage(ctx, &ToolUsage{
			SessionID: "s1", OrgID: "acme", EnvID: "production",
			ToolName: name, DurationMs: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.ListUsage(ctx, UsageFilter{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].ToolName)
	assert.Equal(t, "second", got[1].ToolName)
}
