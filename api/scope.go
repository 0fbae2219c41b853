package api

import (
	"context"
	"errors"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/scope"
)

// errTenantMismatch is returned when a scoped request names another tenant.
var errTenantMismatch = errors.New("courier: tenant does not match request scope")

// emitTenant resolves the tenant an event is emitted for. A scoped request
// may omit the tenant or repeat its own, never name another.
func emitTenant(ctx context.Context, requested string) (string, error) {
	scoped, ok := scope.Tenant(ctx)
	switch {
	case !ok:
		return requested, nil
	case requested == "" || requested == scoped:
		return scoped, nil
	default:
		return "", errTenantMismatch
	}
}

// checkEndpoint reports ErrEndpointNotFound for an endpoint outside the
// request scope. Unscoped requests skip the lookup, so history of deleted
// endpoints stays readable to operators.
func checkEndpoint(ctx context.Context, c *courier.Courier, epID id.ID) error {
	if _, ok := scope.Tenant(ctx); !ok {
		return nil
	}
	ep, err := c.Store().GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}
	if !scope.Allows(ctx, ep.TenantID) {
		return courier.ErrEndpointNotFound
	}
	return nil
}

// scopedDelivery returns a delivery visible to the request scope.
func scopedDelivery(ctx context.Context, c *courier.Courier, delID id.ID) (*delivery.Delivery, error) {
	d, err := c.Delivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(ctx, d.TenantID) {
		return nil, courier.ErrDeliveryNotFound
	}
	return d, nil
}

// visible drops deliveries outside the request scope.
func visible(ctx context.Context, ds []*delivery.Delivery) []*delivery.Delivery {
	out := ds[:0]
	for _, d := range ds {
		if scope.Allows(ctx, d.TenantID) {
			out = append(out, d)
		}
	}
	return out
}

// dlqTenant is the tenant DLQ listings are restricted to: the request scope
// when set, otherwise the optional filter.
func dlqTenant(ctx context.Context, filter string) string {
	if scoped, ok := scope.Tenant(ctx); ok {
		return scoped
	}
	return filter
}
