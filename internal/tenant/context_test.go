// ABOUTME: Unit tests for ambient identity context helpers
// ABOUTME: Tests Identity scope checks and context propagation

package tenant

import (
	"context"
	"testing"
)

func TestIdentity_HasScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		query  string
		want   bool
	}{
		{
			name:   "nil scopes grant everything",
			scopes: nil,
			query:  "alpha",
			want:   true,
		},
		{
			name:   "granted scope",
			scopes: []string{"alpha", "beta"},
			query:  "alpha",
			want:   true,
		},
		{
			name:   "case-insensitive match",
			scopes: []string{"alpha"},
			query:  "ALPHA",
			want:   true,
		},
		{
			name:   "missing scope",
			scopes: []string{"alpha"},
			query:  "beta",
			want:   false,
		},
		{
			name:   "empty set grants nothing",
			scopes: []string{},
			query:  "alpha",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &Identity{OrgID: "org-1", EnvID: "prod", Scopes: tt.scopes}
			if got := id.HasScope(tt.query); got != tt.want {
				t.Errorf("HasScope(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestIdentity_Unrestricted(t *testing.T) {
	if !(&Identity{}).Unrestricted() {
		t.Error("nil scopes should be unrestricted")
	}
	if (&Identity{Scopes: []string{}}).Unrestricted() {
		t.Error("empty non-nil scopes should not be unrestricted")
	}
}

func TestFromContext_Present(t *testing.T) {
	expected := &Identity{
		OrgID:     "org-1",
		EnvID:     "prod",
		SessionID: "sess-1",
		Scopes:    []string{"alpha"},
	}

	ctx := WithIdentity(context.Background(), expected)
	got := FromContext(ctx)

	if got == nil {
		t.Fatal("FromContext() = nil, want non-nil")
	}
	if got.OrgID != expected.OrgID {
		t.Errorf("OrgID = %q, want %q", got.OrgID, expected.OrgID)
	}
	if got.SessionID != expected.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, expected.SessionID)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestFromContext_Isolation(t *testing.T) {
	// Two contexts carrying different identities must never observe each
	// other's values, no matter how they interleave.
	ctxA := WithIdentity(context.Background(), &Identity{OrgID: "org-a", EnvID: "prod", SessionID: "a"})
	ctxB := WithIdentity(context.Background(), &Identity{OrgID: "org-b", EnvID: "prod", SessionID: "b"})

	if got := FromContext(ctxA); got.OrgID != "org-a" {
		t.Errorf("ctxA OrgID = %q, want org-a", got.OrgID)
	}
	if got := FromContext(ctxB); got.OrgID != "org-b" {
		t.Errorf("ctxB OrgID = %q, want org-b", got.OrgID)
	}
}

func TestMustFromContext_Present(t *testing.T) {
	ctx := WithIdentity(context.Background(), &Identity{OrgID: "org-1", EnvID: "prod"})

	// Should not panic
	got := MustFromContext(ctx)
	if got.OrgID != "org-1" {
		t.Errorf("OrgID = %q, want org-1", got.OrgID)
	}
}

func TestMustFromContext_Missing(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() did not panic when identity missing")
		}
	}()

	MustFromContext(context.Background())
}
