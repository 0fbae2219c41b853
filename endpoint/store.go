package endpoint

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for webhook endpoints.
type Store interface {
	// CreateEndpoint persists a new endpoint.
	CreateEndpoint(ctx context.Context, ep *Endpoint) error

	// GetEndpoint returns an endpoint by ID, or ErrNotFound.
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint replaces an existing endpoint.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	// DeleteEndpoint removes an endpoint.
	DeleteEndpoint(ctx context.Context, epID id.ID) error

	// ListEndpoints returns endpoints for a tenant, optionally filtered.
	ListEndpoints(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error)

	// Resolve finds all active endpoints of a tenant subscribed to eventType.
	// This is the hot path, called on every emitted event.
	Resolve(ctx context.Context, tenantID string, eventType string) ([]*Endpoint, error)

	// SetStatus activates or disables an endpoint without deleting it.
	SetStatus(ctx context.Context, epID id.ID, status Status) error
}
