package scope_test

import (
	"context"
	"testing"

	"github.com/xraph/courier/scope"
)

func TestTenantScope(t *testing.T) {
	ctx := context.Background()
	if _, ok := scope.Tenant(ctx); ok {
		t.Fatal("background context must be unscoped")
	}
	if !scope.Allows(ctx, "anyone") {
		t.Fatal("unscoped context must allow every tenant")
	}

	if got := scope.WithTenant(ctx, ""); got != ctx {
		t.Fatal("empty tenant must not wrap the context")
	}

	scoped := scope.WithTenant(ctx, "tenant-1")
	if tid, ok := scope.Tenant(scoped); !ok || tid != "tenant-1" {
		t.Fatalf("Tenant() = %q, %v", tid, ok)
	}
	if !scope.Allows(scoped, "tenant-1") || scope.Allows(scoped, "tenant-2") {
		t.Fatal("scoped context must allow only its tenant")
	}
}
