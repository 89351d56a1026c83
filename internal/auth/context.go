package auth

import (
	"context"

	"github.com/stacklok/seqci-proxy/internal/registry"
)

type tenantKey struct{}

// WithTenant returns a copy of ctx carrying tenant
func WithTenant(ctx context.Context, tenant *registry.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the authenticated tenant, if any
func TenantFromContext(ctx context.Context) (*registry.Tenant, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(*registry.Tenant)
	return tenant, ok && tenant != nil
}
