// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
//
// Records are copied on the way in and out so callers can mutate what they
// hold without racing the store.
type Store struct {
	mu sync.RWMutex

	endpoints  map[string]*endpoint.Endpoint // keyed by ID string
	deliveries map[string]*delivery.Delivery // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		endpoints:  make(map[string]*endpoint.Endpoint),
		deliveries: make(map[string]*delivery.Delivery),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, endpoint.ErrNotFound
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint replaces an existing endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.ID.String()]; !ok {
		return endpoint.ErrNotFound
	}
	ep.UpdatedAt = time.Now().UTC()
	s.endpoints[ep.ID.String()] = copyEndpoint(ep)
	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[epID.String()]; !ok {
		return endpoint.ErrNotFound
	}
	delete(s.endpoints, epID.String())
	return nil
}

// ListEndpoints returns endpoints for a tenant, oldest first.
func (s *Store) ListEndpoints(_ context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*endpoint.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && ep.Status != opts.Status {
			continue
		}
		result = append(result, copyEndpoint(ep))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve finds all active endpoints of a tenant subscribed to eventType.
func (s *Store) Resolve(_ context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID || !ep.Active() {
			continue
		}
		if ep.Subscribes(eventType) {
			result = append(result, copyEndpoint(ep))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetStatus activates or disables an endpoint.
func (s *Store) SetStatus(_ context.Context, epID id.ID, status endpoint.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return endpoint.ErrNotFound
	}
	ep.Status = status
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// EnqueueBatch creates multiple deliveries atomically.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
	}
	return nil
}

// ListDue returns deliveries claimable at now, oldest NextAttemptAt first.
func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.Due(now) {
			result = append(result, copyDelivery(d))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NextAttemptAt.Before(result[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Claim moves a due delivery to in_flight under token.
func (s *Store) Claim(_ context.Context, delID id.ID, token string, now, leaseUntil time.Time) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	if !d.Due(now) {
		return nil, delivery.ErrClaimConflict
	}

	lease := leaseUntil.UTC()
	d.Status = delivery.StatusInFlight
	d.LeaseToken = token
	d.LeaseExpiresAt = &lease
	d.UpdatedAt = now.UTC()
	return copyDelivery(d), nil
}

// CompleteAttempt writes d if its lease token still owns the record.
func (s *Store) CompleteAttempt(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deliveries[d.ID.String()]
	if !ok {
		return delivery.ErrNotFound
	}
	if cur.Status != delivery.StatusInFlight || cur.LeaseToken == "" || cur.LeaseToken != d.LeaseToken {
		return delivery.ErrLeaseLost
	}

	next := copyDelivery(d)
	next.LeaseToken = ""
	next.LeaseExpiresAt = nil
	s.deliveries[d.ID.String()] = next
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListByEndpoint returns delivery history for an endpoint, newest first.
func (s *Store) ListByEndpoint(_ context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	return s.list(opts, func(d *delivery.Delivery) bool {
		return d.EndpointID.String() == epID.String()
	}), nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	return s.list(delivery.ListOpts{}, func(d *delivery.Delivery) bool {
		return d.EventID.String() == evtID.String()
	}), nil
}

// ListByStatus returns deliveries in a status, newest first.
func (s *Store) ListByStatus(_ context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	opts.Status = status
	return s.list(opts, func(*delivery.Delivery) bool { return true }), nil
}

// CountByStatus returns the number of deliveries per status.
func (s *Store) CountByStatus(_ context.Context) (map[delivery.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[delivery.Status]int64, len(delivery.Statuses))
	for _, d := range s.deliveries {
		counts[d.Status]++
	}
	return counts, nil
}

// Requeue returns a failed or dead-lettered delivery to pending.
func (s *Store) Requeue(_ context.Context, delID id.ID, now time.Time) (*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	if d.Status != delivery.StatusFailed && d.Status != delivery.StatusDeadLettered {
		return nil, delivery.ErrNotRequeueable
	}

	now = now.UTC()
	d.Status = delivery.StatusPending
	d.AttemptCount = 0
	d.NextAttemptAt = now
	d.CompletedAt = nil
	d.LeaseExpiresAt = nil
	d.LeaseToken = ""
	d.UpdatedAt = now
	return copyDelivery(d), nil
}

func (s *Store) list(opts delivery.ListOpts, keep func(*delivery.Delivery) bool) []*delivery.Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if !keep(d) {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		if opts.TenantID != "" && d.TenantID != opts.TenantID {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	if d.LeaseExpiresAt != nil {
		t := *d.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return &cp
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
