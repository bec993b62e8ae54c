// ABOUTME: Audit log entity and store methods for session and tool lifecycle events
// ABOUTME: Records which tenant did what on which connection for compliance and debugging

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditSessionAdmitted AuditAction = "session_admitted"
	AuditSessionRejected AuditAction = "session_rejected"
	AuditSessionClosed   AuditAction = "session_closed"
	AuditToolCalled      AuditAction = "tool_called"
	AuditToolDenied      AuditAction = "tool_denied"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditSessionAdmitted,
	AuditSessionRejected,
	AuditSessionClosed,
	AuditToolCalled,
	AuditToolDenied,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string      // UUID v4, generated on append if empty
	OrgID     string      // organization the connection acted for
	EnvID     string      // environment within the organization
	SubOrgID  string      // optional suborganization
	SessionID string      // connection this entry belongs to
	Action    AuditAction // what happened
	ToolName  string      // tool involved, if any
	Detail    string      // additional context
	Timestamp time.Time   // when it happened
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since     *time.Time   // entries after this time
	Until     *time.Time   // entries before this time
	OrgID     *string      // filter by organization
	EnvID     *string      // filter by environment
	SessionID *string      // filter by connection
	Action    *AuditAction // filter by action type
	Limit     int          // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (audit_id, org_id, env_id, suborg_id, session_id, action, tool_name, detail, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.OrgID,
		e.EnvID,
		nullString(e.SubOrgID),
		e.SessionID,
		e.Action,
		nullString(e.ToolName),
		nullString(e.Detail),
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"org_id", e.OrgID,
		"session_id", e.SessionID,
		"action", e.Action,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var subOrgID, toolName, detail sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&e.OrgID,
		&e.EnvID,
		&subOrgID,
		&e.SessionID,
		&actionStr,
		&toolName,
		&detail,
		&tsStr,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	e.SubOrgID = subOrgID.String
	e.ToolName = toolName.String
	e.Detail = detail.String

	var err error
	e.Timestamp, err = time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, org_id, env_id, suborg_id, session_id, action, tool_name, detail, ts
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR org_id = ?)
	  AND (? IS NULL OR env_id = ?)
	  AND (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, untilStr, actionStr *string
	if f.Since != nil {
		v := f.Since.UTC().Format(time.RFC3339)
		sinceStr = &v
	}
	if f.Until != nil {
		v := f.Until.UTC().Format(time.RFC3339)
		untilStr = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		actionStr = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		untilStr, untilStr,
		f.OrgID, f.OrgID,
		f.EnvID, f.EnvID,
		f.SessionID, f.SessionID,
		actionStr, actionStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
