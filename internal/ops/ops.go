// ABOUTME: Operator console package for grimoire-gateway management
// ABOUTME: Provides bearer-token auth, catalog/session HTML pages, and a JSON API

package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/grimoire-gateway/internal/catalog"
	"github.com/2389/grimoire-gateway/internal/mcp"
	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/store"
)

// SessionRevoker force-closes a live connection by session ID.
// *mcp.Manager satisfies this.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, sessionID string) error
}

// Recorder reads audit and usage records for operator queries.
// *store.SQLiteStore satisfies this.
type Recorder interface {
	ListAuditLog(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error)
	GetUsageStats(ctx context.Context, f store.UsageFilter) (*store.UsageStats, error)
	ListUsage(ctx context.Context, f store.UsageFilter, limit int) ([]*store.ToolUsage, error)
}

// Config holds operator console configuration.
type Config struct {
	// TokenHash is the bcrypt hash of the bearer token operators present.
	TokenHash string
}

// Console handles operator routes and authentication.
type Console struct {
	sessions session.Store
	registry *catalog.Registry
	revoker  SessionRevoker
	recorder Recorder
	config   Config
	logger   *slog.Logger
}

// New creates a new operator console handler.
func New(sessions session.Store, registry *catalog.Registry, revoker SessionRevoker, recorder Recorder, cfg Config) *Console {
	return &Console{
		sessions: sessions,
		registry: registry,
		revoker:  revoker,
		recorder: recorder,
		config:   cfg,
		logger:   slog.Default().With("component", "ops"),
	}
}

// RegisterRoutes registers all operator routes on the given mux.
func (c *Console) RegisterRoutes(mux *http.ServeMux) {
	// HTML console
	mux.HandleFunc("GET /ops", c.requireAuth(c.handleOverview))
	mux.HandleFunc("GET /ops/", c.requireAuth(c.handleOverview))
	mux.HandleFunc("GET /ops/catalog", c.requireAuth(c.handleCatalogPage))
	mux.HandleFunc("GET /ops/sessions", c.requireAuth(c.handleSessionsPage))

	// JSON API
	mux.HandleFunc("GET /ops/api/catalog", c.requireAuth(c.handleAPICatalog))
	mux.HandleFunc("GET /ops/api/sessions", c.requireAuth(c.handleAPISessions))
	mux.HandleFunc("DELETE /ops/api/sessions/{id}", c.requireAuth(c.handleAPISessionRevoke))
	mux.HandleFunc("GET /ops/api/audit", c.requireAuth(c.handleAPIAudit))
	mux.HandleFunc("GET /ops/api/usage", c.requireAuth(c.handleAPIUsage))

	c.logger.Info("operator routes registered")
}

// dummyHash keeps token comparison constant-time when no token hash is
// configured or the Authorization header is missing. This prevents timing
// differences that could distinguish the two rejection paths.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// requireAuth wraps a handler to require a valid bearer token.
func (c *Console) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		hash := c.config.TokenHash
		if hash == "" {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(token))
			c.logger.Warn("operator request rejected, no token hash configured")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return ""
	}
	return auth[len(prefix):]
}

// sessionSummary is the JSON shape of one live session record.
type sessionSummary struct {
	ID              string   `json:"id"`
	OrgID           string   `json:"org_id"`
	EnvID           string   `json:"env_id"`
	SubOrgID        string   `json:"sub_org_id,omitempty"`
	Scopes          []string `json:"scopes"`
	Unrestricted    bool     `json:"unrestricted"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

func summarize(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:              sess.ID,
		OrgID:           sess.OrgID,
		EnvID:           sess.EnvID,
		SubOrgID:        sess.SubOrgID,
		Scopes:          sess.Scopes,
		Unrestricted:    sess.Scopes == nil,
		ProtocolVersion: sess.ProtocolVersion,
		CreatedAt:       sess.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleAPISessions lists all live session records.
func (c *Console) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	records, err := c.sessions.List(r.Context())
	if err != nil {
		c.logger.Error("failed to list sessions", "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	out := make([]sessionSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleAPISessionRevoke force-closes the named session.
func (c *Console) handleAPISessionRevoke(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}

	if err := c.revoker.RevokeSession(r.Context(), sessionID); err != nil {
		c.logger.Warn("session revoke failed", "session_id", sessionID, "error", err)
		if errors.Is(err, mcp.ErrConnNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSONError(w, http.StatusServiceUnavailable, "session revoke failed")
		return
	}

	c.logger.Info("session revoked by operator", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": sessionID})
}

// toolInfo is the JSON shape of one catalog entry.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Pack        string `json:"pack"`
	OwningScope string `json:"owning_scope,omitempty"`
}

// handleAPICatalog returns the full tool catalog with pack versions.
func (c *Console) handleAPICatalog(w http.ResponseWriter, r *http.Request) {
	tools := c.registry.Tools()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{
			Name:        t.Def.Name,
			Description: t.Def.Description,
			Pack:        t.PackID,
			OwningScope: t.Def.OwningScope,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packs": c.registry.Packs(),
		"tools": out,
	})
}

// handleAPIAudit queries the audit log. Filters come from query parameters:
// org, env, session, action, since, until (RFC 3339), limit.
func (c *Console) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f store.AuditFilter
	if v := q.Get("org"); v != "" {
		f.OrgID = &v
	}
	if v := q.Get("env"); v != "" {
		f.EnvID = &v
	}
	if v := q.Get("session"); v != "" {
		f.SessionID = &v
	}
	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		if !slices.Contains(store.ValidAuditActions, action) {
			writeJSONError(w, http.StatusBadRequest, "unknown audit action")
			return
		}
		f.Action = &action
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid since timestamp")
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid until timestamp")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = limit
	}

	entries, err := c.recorder.ListAuditLog(r.Context(), f)
	if err != nil {
		c.logger.Error("audit query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleAPIUsage returns aggregated usage stats plus recent records.
// Filters: org, env, tool, since, until (RFC 3339).
func (c *Console) handleAPIUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f store.UsageFilter
	if v := q.Get("org"); v != "" {
		f.OrgID = &v
	}
	if v := q.Get("env"); v != "" {
		f.EnvID = &v
	}
	if v := q.Get("tool"); v != "" {
		f.ToolName = &v
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid since timestamp")
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid until timestamp")
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	stats, err := c.recorder.GetUsageStats(r.Context(), f)
	if err != nil {
		c.logger.Error("usage stats query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	recent, err := c.recorder.ListUsage(r.Context(), f, limit)
	if err != nil {
		c.logger.Error("usage list query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  stats,
		"recent": recent,
	})
}

// parseTimeParam parses an optional RFC 3339 query parameter.
func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("bad timestamp")
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
