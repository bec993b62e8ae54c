// ABOUTME: Scope declaration parsing and normalization for connection admission
// ABOUTME: Accepts JSON array, comma-separated, or space-separated scope lists

package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedScopes indicates a scope declaration that could not be parsed.
var ErrMalformedScopes = errors.New("malformed scope declaration")

// ParseScopes normalizes a scope declaration header value into a scope set.
//
// Accepted forms: a JSON array of strings (`["a","b"]`), a comma-separated
// list (`a,b`), or a space-separated list (`a b`). Entries are trimmed,
// lowercased, and de-duplicated preserving first-seen order.
//
// An absent or blank declaration returns nil, which means unrestricted.
// A literal empty JSON array returns an empty non-nil set: the caller
// declared scopes and granted none, so only unscoped tools are visible.
func ParseScopes(header string) ([]string, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON array: %v", ErrMalformedScopes, err)
		}
		return normalizeScopes(items), nil
	}

	items := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return normalizeScopes(items), nil
}

// normalizeScopes trims, lowercases, and de-duplicates scope entries,
// preserving first-seen order. Always returns a non-nil slice so that a
// declared-but-empty set stays distinct from no declaration at all.
func normalizeScopes(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s := strings.ToLower(strings.TrimSpace(item))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
