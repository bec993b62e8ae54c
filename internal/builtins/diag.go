// ABOUTME: Diagnostics pack exposes the caller's own tenant identity and scope grants.
// ABOUTME: Owned by the "diagnostics" scope; handlers read identity ambiently from context.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/grimoire-gateway/internal/catalog"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

// DiagScope is the owning scope of the diagnostics pack.
const DiagScope = "diagnostics"

// DiagPack creates the diagnostics pack. Its handlers take no tenant
// parameters: identity comes from the ambient request context, which is
// exactly what these tools exist to inspect.
func DiagPack() catalog.Pack {
	return catalog.Pack{
		ID: "builtin:diag",
		Tools: []catalog.ToolDef{
			{
				Name:        "session_info",
				Description: "Report the calling connection's tenant identity and declared scopes",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				OwningScope: DiagScope,
				Handler:     sessionInfoHandler,
			},
			{
				Name:        "scope_probe",
				Description: "Check whether the calling connection's scope set grants a given scope",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"scope":{"type":"string"}},"required":["scope"]}`),
				OwningScope: DiagScope,
				Handler:     scopeProbeHandler,
			},
		},
	}
}

func sessionInfoHandler(ctx context.Context, args json.RawMessage) (string, error) {
	identity := tenant.FromContext(ctx)
	if identity == nil {
		return "", tenant.ErrNoIdentity
	}

	scopes := "unrestricted"
	if identity.Scopes != nil {
		data, err := json.Marshal(identity.Scopes)
		if err != nil {
			return "", fmt.Errorf("marshaling scopes: %w", err)
		}
		scopes = string(data)
	}

	return marshalResult(map[string]string{
		"organization_id":    identity.OrgID,
		"environment_id":     identity.EnvID,
		"suborganization_id": identity.SubOrgID,
		"session_id":         identity.SessionID,
		"scopes":             scopes,
	})
}

type scopeProbeInput struct {
	Scope string `json:"scope"`
}

func scopeProbeHandler(ctx context.Context, args json.RawMessage) (string, error) {
	var in scopeProbeInput
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	in.Scope = strings.ToLower(strings.TrimSpace(in.Scope))
	if in.Scope == "" {
		return "", fmt.Errorf("scope is required")
	}

	identity := tenant.FromContext(ctx)
	if identity == nil {
		return "", tenant.ErrNoIdentity
	}

	// nil scope set means the connection declared nothing and is
	// unrestricted; an explicit set grants exactly its members.
	granted := identity.HasScope(in.Scope)

	return marshalResult(map[string]any{
		"scope":   in.Scope,
		"granted": granted,
	})
}
