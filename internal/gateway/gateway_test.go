// ABOUTME: Tests for gateway component wiring and the end-to-end HTTP surface.
// ABOUTME: Exercises health probes, the MCP round trip, and the operator console mount.

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/grimoire-gateway/internal/config"
)

const testOpsToken = "gateway-test-token"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testOpsToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.Name = "grimoire-test"
	cfg.Session.Backend = "memory"
	cfg.Database.Path = ":memory:"
	cfg.Ops.Enabled = true
	cfg.Ops.TokenHash = string(hash)
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()

	gw, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(ts.Close)
	return gw, ts
}

// rpcResult decodes the interesting parts of a JSON-RPC response.
type rpcResult struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postRPC(t *testing.T, url string, headers map[string]string, body string) (*http.Response, rpcResult) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url+"/mcp", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var out rpcResult
	if resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestGateway(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET /health/ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health/ready, got %d", resp.StatusCode)
	}
}

func TestReadyReflectsStoreOutage(t *testing.T) {
	gw, ts := newTestGateway(t, testConfig(t))

	if err := gw.sessions.Close(); err != nil {
		t.Fatalf("closing session store: %v", err)
	}

	resp, err := http.Get(ts.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET /health/ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after store close, got %d", resp.StatusCode)
	}
}

func TestEndToEndInitializeListCall(t *testing.T) {
	_, ts := newTestGateway(t, testConfig(t))

	headers := map[string]string{
		"Organization-Id": "acme",
		"Environment-Id":  "prod",
	}
	resp, out := postRPC(t, ts.URL, headers,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from initialize, got %d", resp.StatusCode)
	}
	if out.Error != nil {
		t.Fatalf("initialize failed: %s", out.Error.Message)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("expected Mcp-Session-Id header")
	}

	var initResult struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(out.Result, &initResult); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initResult.ServerInfo.Name != "grimoire-test" {
		t.Fatalf("expected server name grimoire-test, got %q", initResult.ServerInfo.Name)
	}

	headers["Mcp-Session-Id"] = sessionID

	// Unrestricted connection sees every builtin pack.
	resp, out = postRPC(t, ts.URL, headers,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		t.Fatalf("tools/list failed: status %d, err %v", resp.StatusCode, out.Error)
	}
	var listResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(out.Result, &listResult); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range listResult.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"ping", "server_info", "session_info", "scope_probe", "list_sessions", "revoke_session"} {
		if !names[want] {
			t.Fatalf("expected builtin tool %q in catalog, got %v", want, names)
		}
	}

	resp, out = postRPC(t, ts.URL, headers,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ping","arguments":{"message":"hi"}}}`)
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		t.Fatalf("tools/call failed: status %d, err %v", resp.StatusCode, out.Error)
	}
	var callResult struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(out.Result, &callResult); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if callResult.IsError {
		t.Fatal("ping call returned an error result")
	}
	if len(callResult.Content) == 0 {
		t.Fatal("ping call returned no content")
	}

	// Teardown releases the session.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /mcp: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from DELETE, got %d", resp.StatusCode)
	}
}

func TestScopedConnectionSeesFilteredCatalog(t *testing.T) {
	_, ts := newTestGateway(t, testConfig(t))

	headers := map[string]string{
		"Organization-Id": "acme",
		"Environment-Id":  "prod",
		"Tool-Scopes":     `["diagnostics"]`,
	}
	resp, out := postRPC(t, ts.URL, headers,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		t.Fatalf("initialize failed: status %d, err %v", resp.StatusCode, out.Error)
	}
	headers["Mcp-Session-Id"] = resp.Header.Get("Mcp-Session-Id")

	_, out = postRPC(t, ts.URL, headers,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if out.Error != nil {
		t.Fatalf("tools/list failed: %s", out.Error.Message)
	}
	var listResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(out.Result, &listResult); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range listResult.Tools {
		names[tool.Name] = true
	}
	if !names["session_info"] {
		t.Fatal("diagnostics scope must see session_info")
	}
	if names["list_sessions"] {
		t.Fatal("diagnostics scope must not see admin tools")
	}
}

func TestOpsConsoleMountedAndGuarded(t *testing.T) {
	_, ts := newTestGateway(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/ops/api/catalog")
	if err != nil {
		t.Fatalf("GET /ops/api/catalog: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/ops/api/catalog", nil)
	req.Header.Set("Authorization", "Bearer "+testOpsToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /ops/api/catalog: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestOpsConsoleDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.Enabled = false
	_, ts := newTestGateway(t, cfg)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/ops/api/catalog", nil)
	req.Header.Set("Authorization", "Bearer "+testOpsToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /ops/api/catalog: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when ops disabled, got %d", resp.StatusCode)
	}
}

func TestUnknownSessionBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Backend = "etcd"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unknown session backend")
	}
}

func TestPacksFileLoadedIntoCatalog(t *testing.T) {
	packsFile := filepath.Join(t.TempDir(), "packs.toml")
	packsDoc := `
[[packs]]
id = "weather:v1"
version = "1.0.0"

[[packs.tools]]
name = "get_forecast"
description = "Fetch the forecast"
owning_scope = "weather"
webhook_url = "http://127.0.0.1:1/forecast"
`
	if err := os.WriteFile(packsFile, []byte(packsDoc), 0o600); err != nil {
		t.Fatalf("writing packs file: %v", err)
	}

	cfg := testConfig(t)
	cfg.Catalog.PacksFile = packsFile
	gw, _ := newTestGateway(t, cfg)

	if _, err := gw.registry.Tool("get_forecast"); err != nil {
		t.Fatalf("expected webhook tool in registry: %v", err)
	}
	if version := gw.registry.Packs()["weather:v1"]; version != "1.0.0" {
		t.Fatalf("expected pack version 1.0.0, got %q", version)
	}
}

func TestDuplicatePackInPacksFileFailsStartup(t *testing.T) {
	packsFile := filepath.Join(t.TempDir(), "packs.toml")
	packsDoc := `
[[packs]]
id = "builtin:core"
version = "9.9.9"

[[packs.tools]]
name = "other_ping"
webhook_url = "http://127.0.0.1:1/ping"
`
	if err := os.WriteFile(packsFile, []byte(packsDoc), 0o600); err != nil {
		t.Fatalf("writing packs file: %v", err)
	}

	cfg := testConfig(t)
	cfg.Catalog.PacksFile = packsFile

	_, err := New(cfg, nil)
	if err == nil {
		t.Fatal("expected startup error for duplicate pack id")
	}
	if want := "builtin:core"; !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Fatalf("expected error to mention %q, got %v", want, err)
	}
}
