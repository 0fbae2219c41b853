package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
)

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: create endpoint: %w", err)
	}

	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": epID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, endpoint.ErrNotFound
		}

		return nil, fmt.Errorf("courier/mongo: get endpoint: %w", err)
	}

	return fromEndpointModel(&m)
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update endpoint: %w", err)
	}

	if res.MatchedCount() == 0 {
		return endpoint.ErrNotFound
	}

	return nil
}

// DeleteEndpoint removes an endpoint. Its delivery history is kept.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.mdb.NewDelete((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: delete endpoint: %w", err)
	}

	if res.DeletedCount() == 0 {
		return endpoint.ErrNotFound
	}

	return nil
}

// ListEndpoints returns endpoints for a tenant, oldest first.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(models))

	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, ep)
	}

	return result, nil
}

// Resolve finds the active endpoints of a tenant subscribed to eventType.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id": tenantID,
			"status":    string(endpoint.StatusActive),
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: resolve: %w", err)
	}

	var result []*endpoint.Endpoint

	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}

		if ep.Subscribes(eventType) {
			result = append(result, ep)
		}
	}

	return result, nil
}

// SetStatus activates or disables an endpoint.
func (s *Store) SetStatus(ctx context.Context, epID id.ID, status endpoint.Status) error {
	res, err := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: set status: %w", err)
	}

	if res.MatchedCount() == 0 {
		return endpoint.ErrNotFound
	}

	return nil
}
