// ABOUTME: Core pack provides unscoped tools visible to every admitted connection.
// ABOUTME: Carries no owning scope, so even an empty scope declaration sees it.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/grimoire-gateway/internal/catalog"
)

// CorePack creates the core pack with ping and server_info tools. Tools in
// this pack carry no owning scope and are visible to every connection.
func CorePack(serverName, version string) catalog.Pack {
	started := time.Now().UTC()
	return catalog.Pack{
		ID:      "builtin:core",
		Version: version,
		Tools: []catalog.ToolDef{
			{
				Name:        "ping",
				Description: "Check gateway liveness, optionally echoing a message",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
				Handler:     pingHandler,
			},
			{
				Name:        "server_info",
				Description: "Report the gateway's name, version, and uptime",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				Handler:     serverInfoHandler(serverName, version, started),
			},
		},
	}
}

type pingInput struct {
	Message string `json:"message"`
}

func pingHandler(ctx context.Context, args json.RawMessage) (string, error) {
	var in pingInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid input: %w", err)
		}
	}

	out := map[string]string{"status": "pong"}
	if in.Message != "" {
		out["echo"] = in.Message
	}
	return marshalResult(out)
}

func serverInfoHandler(name, version string, started time.Time) catalog.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		return marshalResult(map[string]string{
			"name":    name,
			"version": version,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	}
}

// marshalResult renders a tool result as JSON text.
func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling result: %w", err)
	}
	return string(data), nil
}
