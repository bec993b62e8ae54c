// ABOUTME: SQLite implementation for per-call tool usage tracking
// ABOUTME: Stores and aggregates call durations and error rates per tenant and tool

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolUsage records a single tool invocation.
type ToolUsage struct {
	ID         string // UUID v4, generated on save if empty
	SessionID  string
	OrgID      string
	EnvID      string
	ToolName   string
	DurationMs int64
	IsError    bool
	CreatedAt  time.Time
}

// UsageFilter specifies filtering options for usage queries.
type UsageFilter struct {
	OrgID    *string
	EnvID    *string
	ToolName *string
	Since    *time.Time
	Until    *time.Time
}

// UsageStats holds aggregated usage statistics.
type UsageStats struct {
	CallCount     int64   `json:"call_count"`
	ErrorCount    int64   `json:"error_count"`
	TotalMs       int64   `json:"total_ms"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// SaveUsage stores a tool usage record.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) SaveUsage(ctx context.Context, u *ToolUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_usage (id, session_id, org_id, env_id, tool_name, duration_ms, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID,
		u.SessionID,
		u.OrgID,
		u.EnvID,
		u.ToolName,
		u.DurationMs,
		u.IsError,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved tool usage",
		"id", u.ID,
		"session_id", u.SessionID,
		"tool_name", u.ToolName,
		"duration_ms", u.DurationMs,
	)
	return nil
}

// usageWhere builds the filter clause shared by usage queries.
func usageWhere(f UsageFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}

	if f.OrgID != nil {
		where += " AND org_id = ?"
		args = append(args, *f.OrgID)
	}
	if f.EnvID != nil {
		where += " AND env_id = ?"
		args = append(args, *f.EnvID)
	}
	if f.ToolName != nil {
		where += " AND tool_name = ?"
		args = append(args, *f.ToolName)
	}
	if f.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if f.Until != nil {
		where += " AND created_at < ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	return where, args
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, f UsageFilter) (*UsageStats, error) {
	where, args := usageWhere(f)
	query := `
		SELECT
			COUNT(*) as call_count,
			COALESCE(SUM(is_error), 0) as error_count,
			COALESCE(SUM(duration_ms), 0) as total_ms
		FROM tool_usage` + where

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.CallCount,
		&stats.ErrorCount,
		&stats.TotalMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	if stats.CallCount > 0 {
		stats.AvgDurationMs = float64(stats.TotalMs) / float64(stats.CallCount)
	}
	return &stats, nil
}

// ListUsage returns usage records matching the filter, newest first.
func (s *SQLiteStore) ListUsage(ctx context.Context, f UsageFilter, limit int) ([]*ToolUsage, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	where, args := usageWhere(f)
	query := `
		SELECT id, session_id, org_id, env_id, tool_name, duration_ms, is_error, created_at
		FROM tool_usage` + where + `
		ORDER BY created_at DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*ToolUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return usages, nil
}

// scanUsage scans a single usage row into a ToolUsage struct.
func scanUsage(rows *sql.Rows) (*ToolUsage, error) {
	var u ToolUsage
	var createdAtStr string

	err := rows.Scan(
		&u.ID,
		&u.SessionID,
		&u.OrgID,
		&u.EnvID,
		&u.ToolName,
		&u.DurationMs,
		&u.IsError,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	u.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &u, nil
}
