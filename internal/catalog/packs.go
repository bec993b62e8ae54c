// ABOUTME: Static webhook pack loading from a TOML catalog file.
// ABOUTME: Each declared tool gets a handler that POSTs arguments to its webhook URL.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/grimoire-gateway/internal/tenant"
)

// packsFile is the TOML document shape for static webhook packs.
type packsFile struct {
	Packs []packDecl `toml:"packs"`
}

type packDecl struct {
	ID      string     `toml:"id"`
	Version string     `toml:"version"`
	Tools   []toolDecl `toml:"tools"`
}

type toolDecl struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	OwningScope string `toml:"owning_scope"`
	InputSchema string `toml:"input_schema"`
	WebhookURL  string `toml:"webhook_url"`
	Timeout     string `toml:"timeout"`
}

// defaultWebhookTimeout bounds a webhook tool call when the declaration
// carries no timeout of its own.
const defaultWebhookTimeout = 30 * time.Second

// LoadPacksFile parses a TOML pack catalog and returns packs whose tool
// handlers forward calls to the declared webhook URLs using client.
// Tenant identity for each call is recovered through resolver and sent as
// request headers, so upstream adapters can scope their API filters.
// Pass a nil client to use http.DefaultClient.
func LoadPacksFile(path string, resolver *tenant.Resolver, client *http.Client) ([]*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading packs file: %w", err)
	}
	return parsePacks(string(data), resolver, client)
}

// parsePacks decodes the TOML document and validates each declaration.
func parsePacks(data string, resolver *tenant.Resolver, client *http.Client) ([]*Pack, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var doc packsFile
	if _, err := toml.Decode(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing packs file: %w", err)
	}

	packs := make([]*Pack, 0, len(doc.Packs))
	for _, decl := range doc.Packs {
		if decl.ID == "" {
			return nil, fmt.Errorf("packs file: pack with empty id")
		}
		pack := &Pack{ID: decl.ID, Version: decl.Version}
		for _, td := range decl.Tools {
			def, err := webhookToolDef(decl.ID, td, resolver, client)
			if err != nil {
				return nil, err
			}
			pack.Tools = append(pack.Tools, def)
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

// webhookToolDef converts one tool declaration into a ToolDef with a
// webhook-forwarding handler.
func webhookToolDef(packID string, td toolDecl, resolver *tenant.Resolver, client *http.Client) (ToolDef, error) {
	if td.Name == "" {
		return ToolDef{}, fmt.Errorf("pack %q: tool with empty name", packID)
	}
	if td.WebhookURL == "" {
		return ToolDef{}, fmt.Errorf("pack %q: tool %q has no webhook_url", packID, td.Name)
	}
	if !strings.HasPrefix(td.WebhookURL, "http://") && !strings.HasPrefix(td.WebhookURL, "https://") {
		return ToolDef{}, fmt.Errorf("pack %q: tool %q has invalid webhook_url %q", packID, td.Name, td.WebhookURL)
	}

	timeout := defaultWebhookTimeout
	if td.Timeout != "" {
		parsed, err := time.ParseDuration(td.Timeout)
		if err != nil {
			return ToolDef{}, fmt.Errorf("pack %q: tool %q: parsing timeout %q: %w", packID, td.Name, td.Timeout, err)
		}
		timeout = parsed
	}

	var schema json.RawMessage
	if td.InputSchema != "" {
		if !json.Valid([]byte(td.InputSchema)) {
			return ToolDef{}, fmt.Errorf("pack %q: tool %q: input_schema is not valid JSON", packID, td.Name)
		}
		schema = json.RawMessage(td.InputSchema)
	}

	return ToolDef{
		Name:        td.Name,
		Description: td.Description,
		InputSchema: schema,
		OwningScope: td.OwningScope,
		Timeout:     timeout,
		Handler:     webhookHandler(td.WebhookURL, resolver, client),
	}, nil
}

// webhookHandler POSTs the tool arguments as JSON and returns the response
// body. Tenant identity is resolved per call and forwarded as headers; a
// resolution failure aborts the call rather than proceeding with a default
// identity. Non-2xx responses are errors.
func webhookHandler(url string, resolver *tenant.Resolver, client *http.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		identity, err := resolver.Resolve(ctx, tenant.Request{})
		if err != nil {
			return "", fmt.Errorf("resolving tenant for webhook call: %w", err)
		}

		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(args)))
		if err != nil {
			return "", fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Organization-Id", identity.OrgID)
		req.Header.Set("Environment-Id", identity.EnvID)
		if identity.SubOrgID != "" {
			req.Header.Set("Suborganization-Id", identity.SubOrgID)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("calling webhook: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("reading webhook response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return string(body), nil
	}
}
