// ABOUTME: Minimal fake MCP client for E2E testing — admits, lists tools, calls ping, streams events.
// ABOUTME: Usage: fake-client [-gateway http://localhost:8080] [-org acme] [-env prod] [-scopes '["diagnostics"]']

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
)

func main() {
	gateway := flag.String("gateway", "http://localhost:8080", "Gateway HTTP URL")
	org := flag.String("org", "acme", "Organization-Id header")
	env := flag.String("env", "dev", "Environment-Id header")
	suborg := flag.String("suborg", "", "Suborganization-Id header")
	scopes := flag.String("scopes", "", "Tool-Scopes header (omit for unrestricted)")
	tool := flag.String("tool", "ping", "Tool to call after listing")
	args := flag.String("args", `{"message":"hello from fake-client"}`, "Tool arguments as JSON")
	stream := flag.Bool("stream", false, "Open the SSE event stream and print notifications")
	flag.Parse()

	if err := run(*gateway, *org, *env, *suborg, *scopes, *tool, *args, *stream); err != nil {
		log.Fatal(err)
	}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func run(gateway, org, env, suborg, scopes, tool, args string, stream bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	base := strings.TrimSuffix(gateway, "/")

	// Admit
	headers := map[string]string{
		"Organization-Id": org,
		"Environment-Id":  env,
	}
	if suborg != "" {
		headers["Suborganization-Id"] = suborg
	}
	if scopes != "" {
		headers["Tool-Scopes"] = scopes
	}

	resp, out, err := postRPC(ctx, base, headers,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"fake-client"}}}`)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("admission rejected: %s (data: %s)", out.Error.Message, out.Error.Data)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	fmt.Fprintf(os.Stderr, "admitted as session %s\n", sessionID)
	headers["Mcp-Session-Id"] = sessionID

	// Signal readiness like a real client would
	if _, _, err := postRPC(ctx, base, headers,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	// List tools
	_, out, err = postRPC(ctx, base, headers, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("tools/list failed: %s", out.Error.Message)
	}
	var list struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(out.Result, &list); err != nil {
		return fmt.Errorf("decoding tools/list: %w", err)
	}
	fmt.Printf("visible tools (%d):\n", len(list.Tools))
	for _, t := range list.Tools {
		fmt.Printf("  %-16s %s\n", t.Name, t.Description)
	}

	// Call the chosen tool
	call := fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, tool, args)
	_, out, err = postRPC(ctx, base, headers, call)
	if err != nil {
		return fmt.Errorf("tools/call: %w", err)
	}
	if out.Error != nil {
		fmt.Printf("call error: %s (data: %s)\n", out.Error.Message, out.Error.Data)
	} else {
		fmt.Printf("call result: %s\n", out.Result)
	}

	if stream {
		if err := streamEvents(ctx, base, sessionID); err != nil && ctx.Err() == nil {
			return fmt.Errorf("event stream: %w", err)
		}
	}

	// Teardown
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, base+"/mcp", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	delResp.Body.Close()
	fmt.Fprintf(os.Stderr, "session %s closed (status %d)\n", sessionID, delResp.StatusCode)
	return nil
}

func postRPC(ctx context.Context, base string, headers map[string]string, body string) (*http.Response, rpcResponse, error) {
	var out rpcResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/mcp", bytes.NewBufferString(body))
	if err != nil {
		return nil, out, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp, out, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
		}
	}
	return resp, out, nil
}

// streamEvents opens the SSE stream and prints each notification until
// interrupted or the server closes the stream.
func streamEvents(ctx context.Context, base, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/mcp", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream rejected: status %d", resp.StatusCode)
	}

	fmt.Fprintln(os.Stderr, "streaming events (Ctrl+C to stop)")
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Printf("event: %s\n", strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
