// ABOUTME: Admin pack exposes session management tools behind the "admin" scope.
// ABOUTME: Lists live session records and revokes connections through the gateway.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/grimoire-gateway/internal/catalog"
	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

// AdminScope is the owning scope of the admin pack.
const AdminScope = "admin"

// SessionRevoker tears down a live connection by session id.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, sessionID string) error
}

// AdminPack creates the admin pack. Listing is restricted to sessions of
// the caller's own organization; revocation goes through the gateway's
// connection manager so the session record and event stream are released
// together.
func AdminPack(sessions session.Store, revoker SessionRevoker) catalog.Pack {
	a := &adminHandlers{sessions: sessions, revoker: revoker}
	return catalog.Pack{
		ID: "builtin:admin",
		Tools: []catalog.ToolDef{
			{
				Name:        "list_sessions",
				Description: "List live sessions belonging to the calling connection's organization",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				OwningScope: AdminScope,
				Handler:     a.ListSessions,
			},
			{
				Name:        "revoke_session",
				Description: "Tear down a live connection by session id",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`),
				OwningScope: AdminScope,
				Handler:     a.RevokeSession,
			},
		},
	}
}

type adminHandlers struct {
	sessions session.Store
	revoker  SessionRevoker
}

type sessionSummary struct {
	ID        string   `json:"id"`
	EnvID     string   `json:"environment_id"`
	SubOrgID  string   `json:"suborganization_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func (a *adminHandlers) ListSessions(ctx context.Context, args json.RawMessage) (string, error) {
	identity := tenant.FromContext(ctx)
	if identity == nil {
		return "", tenant.ErrNoIdentity
	}

	all, err := a.sessions.List(ctx)
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}

	// Tenant isolation: a caller only ever sees its own organization.
	var out []sessionSummary
	for _, sess := range all {
		if sess.OrgID != identity.OrgID {
			continue
		}
		out = append(out, sessionSummary{
			ID:        sess.ID,
			EnvID:     sess.EnvID,
			SubOrgID:  sess.SubOrgID,
			Scopes:    sess.Scopes,
			CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return marshalResult(map[string]any{"sessions": out, "count": len(out)})
}

type revokeSessionInput struct {
	SessionID string `json:"session_id"`
}

func (a *adminHandlers) RevokeSession(ctx context.Context, args json.RawMessage) (string, error) {
	var in revokeSessionInput
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if in.SessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}

	identity := tenant.FromContext(ctx)
	if identity == nil {
		return "", tenant.ErrNoIdentity
	}

	// Verify the target belongs to the caller's organization before
	// touching the live table.
	target, err := a.sessions.Get(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", fmt.Errorf("session %s not found", in.SessionID)
		}
		return "", fmt.Errorf("looking up session: %w", err)
	}
	if target.OrgID != identity.OrgID {
		return "", fmt.Errorf("session %s not found", in.SessionID)
	}

	if err := a.revoker.RevokeSession(ctx, in.SessionID); err != nil {
		return "", fmt.Errorf("revoking session: %w", err)
	}

	return marshalResult(map[string]string{"session_id": in.SessionID, "status": "revoked"})
}
