package claims

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetSet(t *testing.T) {
	if _, err := Get(context.Background()); err == nil {
		t.Fatal("expected error without claims")
	}

	ctx := Set(context.Background(), Claims{UserID: "u1", Role: RoleAdmin})
	c, err := Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u1" {
		t.Fatalf("unexpected user %q", c.UserID)
	}
}

func TestCapability(t *testing.T) {
	tests := []struct {
		role string
		exp  Capability
	}{
		{RoleAdmin, Capability{Actor: "u", Reconcile: true, Apply: true}},
		{RoleAuditor, Capability{Actor: "u", Reconcile: true}},
		{RoleUser, Capability{Actor: "u"}},
		{"", Capability{Actor: "u"}},
	}

	for _, tt := range tests {
		got := Claims{UserID: "u", Role: tt.role}.Capability()
		if diff := cmp.Diff(tt.exp, got); diff != "" {
			t.Errorf("role %q (-want +got):\n%s", tt.role, diff)
		}
	}
}
