// Package scope carries the tenant a request acts for on its context. The
// HTTP surfaces set it from the X-Tenant-ID header; reads of tenant-owned
// records check it.
package scope

import "context"

type tenantKey struct{}

// WithTenant returns a copy of ctx scoped to tenantID. An empty tenantID
// leaves ctx unchanged.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// Tenant returns the tenant ctx is scoped to.
func Tenant(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}

// Allows reports whether ctx may read a record owned by tenantID. An
// unscoped context allows everything.
func Allows(ctx context.Context, tenantID string) bool {
	t, ok := Tenant(ctx)
	return !ok || t == tenantID
}
