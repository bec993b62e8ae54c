// ABOUTME: MCP Streamable HTTP server hosting the tenant-scoped tool catalog.
// ABOUTME: Admission validates tenant headers and scope declarations; every call runs under ambient identity.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/2389/grimoire-gateway/internal/catalog"
	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/store"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version advertised in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// defaultCallTimeout bounds a tool call whose definition carries no timeout.
const defaultCallTimeout = 60 * time.Second

// Admission headers carried on the initialize request.
const (
	HeaderOrgID      = "Organization-Id"
	HeaderEnvID      = "Environment-Id"
	HeaderSubOrgID   = "Suborganization-Id"
	HeaderToolScopes = "Tool-Scopes"
	HeaderSessionID  = "Mcp-Session-Id"
)

// Machine-readable error kinds carried in the JSON-RPC error data. No
// internal stack traces cross the wire; callers get a kind plus a message.
const (
	KindAdmissionError    = "admission_error"
	KindUnknownConnection = "unknown_connection"
	KindUnauthorizedTool  = "unauthorized_tool"
	KindStoreUnavailable  = "store_unavailable"
	KindToolNotFound      = "tool_not_found"
	KindInvalidArguments  = "invalid_arguments"
	KindNoIdentity        = "no_identity"
	KindInternalError     = "internal_error"
)

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool descriptor.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AuditSink records session and tool lifecycle events.
type AuditSink interface {
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// UsageSink records per-call usage statistics.
type UsageSink interface {
	SaveUsage(ctx context.Context, u *store.ToolUsage) error
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry *catalog.Registry
	Store    session.Store
	Manager  *Manager
	Events   *Broadcaster
	Logger   *slog.Logger

	Audit AuditSink // optional
	Usage UsageSink // optional

	ServerName    string
	ServerVersion string

	// SessionTTL is applied to each session record at admission. Zero
	// means session.DefaultTTL.
	SessionTTL time.Duration

	// RequireScopes rejects admission when no scope declaration is
	// present, instead of the default-open unrestricted grant.
	RequireScopes bool
}

// Server hosts the MCP endpoint. It carries no per-connection state of its
// own: each connection's identity lives in its ambient context and in the
// live connection table, never in fields on this struct.
type Server struct {
	registry      *catalog.Registry
	store         session.Store
	manager       *Manager
	events        *Broadcaster
	logger        *slog.Logger
	audit         AuditSink
	usage         UsageSink
	serverName    string
	serverVersion string
	sessionTTL    time.Duration
	requireScopes bool
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("connection manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.ServerName
	if name == "" {
		name = "grimoire-gateway"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}

	return &Server{
		registry:      cfg.Registry,
		store:         cfg.Store,
		manager:       cfg.Manager,
		events:        cfg.Events,
		logger:        logger.With("component", "mcp"),
		audit:         cfg.Audit,
		usage:         cfg.Usage,
		serverName:    name,
		serverVersion: version,
		sessionTTL:    ttl,
		requireScopes: cfg.RequireScopes,
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE
// per the Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete tears down a connection per the Streamable HTTP spec.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	if _, ok := s.manager.Get(sessionID); !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if err := s.manager.Teardown(r.Context(), sessionID, "client close"); err != nil {
		s.logger.Warn("teardown error on DELETE", "session_id", sessionID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		s.handleInitialize(w, r, req)
		return
	}

	// Every other operation runs on behalf of an admitted connection:
	// resolve it from the live table and install its ambient identity for
	// this request's task tree. No store round-trip is needed here, so a
	// transient store outage does not interrupt admitted connections.
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	conn, ok := s.manager.Get(sessionID)
	if !ok {
		// Connection expired or was torn down; client must re-initialize.
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	identity := conn.Identity()
	ctx := tenant.WithIdentity(r.Context(), identity)

	s.logger.Debug("mcp request",
		"method", req.Method,
		"session_id", sessionID,
		"is_notification", isNotification,
	)

	if isNotification {
		s.handleNotification(w, sessionID, req)
		return
	}

	switch req.Method {
	case "tools/list":
		s.handleToolsList(w, req, identity)
	case "tools/call":
		s.handleToolsCall(ctx, w, req, conn, identity)
	case "ping":
		s.sendJSONRPCResult(w, req.ID, map[string]any{})
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleNotification accepts client notifications with HTTP 202.
func (s *Server) handleNotification(w http.ResponseWriter, sessionID string, req JSONRPCRequest) {
	switch req.Method {
	case "notifications/initialized":
		if err := s.manager.Activate(sessionID); err != nil {
			s.logger.Warn("could not activate connection", "session_id", sessionID, "error", err)
		}
	default:
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleInitialize performs connection admission: header validation, scope
// parsing, session record creation, and live-table registration. Rejection
// happens before any state is created.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	connID := uuid.New().String()
	orgID := strings.TrimSpace(r.Header.Get(HeaderOrgID))
	envID := strings.TrimSpace(r.Header.Get(HeaderEnvID))
	subOrgID := strings.TrimSpace(r.Header.Get(HeaderSubOrgID))

	conn := NewConn(connID, nil)

	reject := func(kind, msg string) {
		_ = conn.Transition(StateRejected)
		s.auditEntry(r.Context(), &store.AuditEntry{
			OrgID:     orgID,
			EnvID:     envID,
			SubOrgID:  subOrgID,
			SessionID: connID,
			Action:    store.AuditSessionRejected,
			Detail:    msg,
		})
		code := JSONRPCInvalidRequest
		if kind == KindStoreUnavailable {
			code = JSONRPCInternalError
		}
		s.sendJSONRPCError(w, req.ID, code, msg, errorData(kind))
	}

	if orgID == "" {
		reject(KindAdmissionError, "missing required header: "+HeaderOrgID)
		return
	}
	if envID == "" {
		reject(KindAdmissionError, "missing required header: "+HeaderEnvID)
		return
	}

	scopes, err := tenant.ParseScopes(r.Header.Get(HeaderToolScopes))
	if err != nil {
		reject(KindAdmissionError, fmt.Sprintf("invalid %s header: %v", HeaderToolScopes, err))
		return
	}
	if s.requireScopes && scopes == nil {
		reject(KindAdmissionError, "scope declaration required: missing "+HeaderToolScopes+" header")
		return
	}

	sess := &session.Session{
		ID:       connID,
		OrgID:    orgID,
		EnvID:    envID,
		SubOrgID: subOrgID,
		Scopes:   scopes,
		Metadata: map[string]string{
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		},
		ProtocolVersion: latestProtocolVersion,
		CreatedAt:       time.Now().UTC(),
		TTL:             s.sessionTTL,
	}

	// Fail closed: an unreachable store refuses the connection rather than
	// being read as unrestricted access.
	if err := s.store.Put(r.Context(), sess); err != nil {
		s.logger.Error("session store write failed at admission", "session_id", connID, "error", err)
		if errors.Is(err, session.ErrUnavailable) {
			reject(KindStoreUnavailable, "session store unavailable")
		} else {
			reject(KindStoreUnavailable, "could not create session")
		}
		return
	}

	identity := &tenant.Identity{
		OrgID:     orgID,
		EnvID:     envID,
		SubOrgID:  subOrgID,
		SessionID: connID,
		Scopes:    scopes,
	}
	conn.identity = identity

	if err := s.manager.Admit(conn); err != nil {
		_ = s.store.Delete(r.Context(), connID)
		s.logger.Error("could not register connection", "session_id", connID, "error", err)
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "could not register connection", errorData(KindInternalError))
		return
	}

	s.auditEntry(r.Context(), &store.AuditEntry{
		OrgID:     orgID,
		EnvID:     envID,
		SubOrgID:  subOrgID,
		SessionID: connID,
		Action:    store.AuditSessionAdmitted,
		Detail:    fmt.Sprintf("scopes=%s", formatScopes(scopes)),
	})

	w.Header().Set(HeaderSessionID, connID)
	s.sendJSONRPCResult(w, req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.serverName,
			"version": s.serverVersion,
		},
	})
}

// handleToolsList returns the catalog subset visible to this connection.
// Visibility is computed fresh per call from the immutable registry and the
// caller's own scope set only.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest, identity *tenant.Identity) {
	visible := s.registry.Visible(identity.Scopes)

	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(visible))}
	for i, tool := range visible {
		result.Tools[i] = MCPToolInfo{
			Name:        tool.Def.Name,
			Description: tool.Def.Description,
			InputSchema: tool.Def.InputSchema,
		}
	}

	s.logger.Debug("tools/list",
		"session_id", identity.SessionID,
		"count", len(visible),
	)
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall dispatches a tool invocation. Invoking a tool outside the
// caller's visible set fails with the unauthorized kind; it is never
// silently filtered-but-executable. A panic in a handler still tears the
// connection down, releasing its session record promptly.
func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest, conn *Conn, identity *tenant.Identity) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("tool handler panic",
				"session_id", identity.SessionID,
				"panic", rec,
			)
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.manager.Teardown(releaseCtx, conn.ID, "handler panic"); err != nil {
				s.logger.Error("teardown after panic failed", "session_id", conn.ID, "error", err)
			}
			s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "internal error", errorData(KindInternalError))
		}
	}()

	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	tool, err := s.registry.Tool(params.Name)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", errorData(KindToolNotFound))
		return
	}

	if !s.registry.VisibleTo(params.Name, identity.Scopes) {
		s.auditEntry(ctx, &store.AuditEntry{
			OrgID:     identity.OrgID,
			EnvID:     identity.EnvID,
			SubOrgID:  identity.SubOrgID,
			SessionID: identity.SessionID,
			Action:    store.AuditToolDenied,
			ToolName:  params.Name,
			Detail:    "tool outside the connection's visible set",
		})
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "tool not available to this connection", errorData(KindUnauthorizedTool))
		return
	}

	if err := tool.ValidateArgs(params.Arguments); err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, err.Error(), errorData(KindInvalidArguments))
		return
	}

	requestID := uuid.New().String()
	timeout := tool.Def.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.publish(identity.SessionID, "notifications/message", map[string]any{
		"level": "info",
		"data":  fmt.Sprintf("tool %s started (request %s)", params.Name, requestID),
	})

	start := time.Now()
	output, callErr := tool.Def.Handler(callCtx, params.Arguments)
	duration := time.Since(start)

	s.recordUsage(ctx, identity, params.Name, duration, callErr != nil)
	s.auditEntry(ctx, &store.AuditEntry{
		OrgID:     identity.OrgID,
		EnvID:     identity.EnvID,
		SubOrgID:  identity.SubOrgID,
		SessionID: identity.SessionID,
		Action:    store.AuditToolCalled,
		ToolName:  params.Name,
		Detail:    fmt.Sprintf("request_id=%s duration_ms=%d error=%t", requestID, duration.Milliseconds(), callErr != nil),
	})

	if callErr != nil {
		s.handleToolError(ctx, w, req.ID, params.Name, requestID, identity, callErr)
		return
	}

	s.publish(identity.SessionID, "notifications/message", map[string]any{
		"level": "info",
		"data":  fmt.Sprintf("tool %s completed (request %s)", params.Name, requestID),
	})

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
		"session_id", identity.SessionID,
		"duration_ms", duration.Milliseconds(),
	)
	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: output}},
	})
}

// handleToolError maps handler failures onto the error taxonomy. Identity
// resolution failures abort the call with a distinct kind; ordinary tool
// failures surface as an error-flagged result.
func (s *Server) handleToolError(ctx context.Context, w http.ResponseWriter, id json.RawMessage, toolName, requestID string, identity *tenant.Identity, err error) {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"request_id", requestID,
		"session_id", identity.SessionID,
		"error", err,
	)
	s.publish(identity.SessionID, "notifications/message", map[string]any{
		"level": "error",
		"data":  fmt.Sprintf("tool %s failed (request %s)", toolName, requestID),
	})

	switch {
	case errors.Is(err, tenant.ErrUnknownConnection):
		s.sendJSONRPCError(w, id, JSONRPCInvalidRequest, "unknown or expired connection", errorData(KindUnknownConnection))
	case errors.Is(err, tenant.ErrNoIdentity):
		s.sendJSONRPCError(w, id, JSONRPCInvalidRequest, "no tenant identity available for this call", errorData(KindNoIdentity))
	case errors.Is(err, session.ErrUnavailable):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "session store unavailable", errorData(KindStoreUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution timed out", nil)
	case errors.Is(err, context.Canceled):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled", nil)
	default:
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
}

// handleStream upgrades GET /mcp to the connection's SSE event stream. The
// stream carries this session's own notifications only. When the client
// disconnects, the connection is torn down promptly rather than waiting for
// the session TTL.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	conn, ok := s.manager.Get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if s.events == nil {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("sse upgrade failed", "session_id", sessionID, "error", err)
		http.Error(w, "could not establish event stream", http.StatusInternalServerError)
		return
	}

	ctx := tenant.WithIdentity(r.Context(), conn.Identity())
	sub, subID := s.events.Subscribe(ctx, sessionID)
	defer s.events.Unsubscribe(sessionID, subID)

	s.logger.Info("event stream opened", "session_id", sessionID)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case n, open := <-sub:
			if !open {
				// Teardown closed this session's stream.
				return
			}
			if err := s.sendEvent(sess, n); err != nil {
				s.logger.Debug("event stream write failed", "session_id", sessionID, "error", err)
				s.teardownOnDisconnect(sessionID)
				return
			}
		case <-ticker.C:
			if err := s.sendEvent(sess, NewNotification("notifications/ping", nil)); err != nil {
				s.teardownOnDisconnect(sessionID)
				return
			}
		case <-ctx.Done():
			s.teardownOnDisconnect(sessionID)
			return
		}
	}
}

// teardownOnDisconnect releases a connection after its event stream drops.
// Uses a fresh bounded context; the request context is already dead.
func (s *Server) teardownOnDisconnect(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.manager.Teardown(ctx, sessionID, "client disconnect"); err != nil {
		s.logger.Warn("teardown after disconnect failed", "session_id", sessionID, "error", err)
	}
}

// sendEvent writes one notification to the SSE session.
func (s *Server) sendEvent(sess *sse.Session, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	msg := &sse.Message{Type: sse.Type("message")}
	msg.AppendData(string(payload))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

// publish pushes a notification to the session's event stream, if any.
func (s *Server) publish(sessionID, method string, params any) {
	if s.events == nil {
		return
	}
	s.events.Publish(sessionID, NewNotification(method, params))
}

// auditEntry records an audit event, logging (not failing) on sink errors.
func (s *Server) auditEntry(ctx context.Context, e *store.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.AppendAuditLog(ctx, e); err != nil {
		s.logger.Warn("audit append failed", "action", string(e.Action), "error", err)
	}
}

// recordUsage saves per-call usage, logging (not failing) on sink errors.
func (s *Server) recordUsage(ctx context.Context, identity *tenant.Identity, toolName string, duration time.Duration, isError bool) {
	if s.usage == nil {
		return
	}
	u := &store.ToolUsage{
		SessionID:  identity.SessionID,
		OrgID:      identity.OrgID,
		EnvID:      identity.EnvID,
		ToolName:   toolName,
		DurationMs: duration.Milliseconds(),
		IsError:    isError,
	}
	if err := s.usage.SaveUsage(ctx, u); err != nil {
		s.logger.Warn("usage save failed", "tool_name", toolName, "error", err)
	}
}

// formatScopes renders a scope set for audit detail text.
func formatScopes(scopes []string) string {
	if scopes == nil {
		return "unrestricted"
	}
	if len(scopes) == 0 {
		return "none"
	}
	return strings.Join(scopes, ",")
}

// errorData wraps a machine-readable kind for the JSON-RPC error data field.
func errorData(kind string) map[string]any {
	return map[string]any{"kind": kind}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
