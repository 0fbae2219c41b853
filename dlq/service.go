// Package dlq lists deliveries that exhausted their retry budget or failed
// fatally, and replays them on request.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
)

// ErrNotFound is returned for a delivery that is not dead-lettered or failed.
var ErrNotFound = errors.New("courier: dlq entry not found")

// Service manages the dead letter queue.
type Service struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new DLQ service. metrics may be nil.
func NewService(store Store, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// List returns DLQ entries, newest first.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	ds, err := svc.store.ListByStatus(ctx, statusOf(opts), delivery.ListOpts{
		Offset:   opts.Offset,
		Limit:    opts.Limit,
		TenantID: opts.TenantID,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(ds))
	for _, d := range ds {
		entries = append(entries, EntryFrom(d))
	}
	return entries, nil
}

// Get returns the DLQ entry for a delivery.
func (svc *Service) Get(ctx context.Context, delID id.ID) (*Entry, error) {
	d, err := svc.store.GetDelivery(ctx, delID)
	if errors.Is(err, delivery.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.Status != delivery.StatusDeadLettered && d.Status != delivery.StatusFailed {
		return nil, ErrNotFound
	}
	return EntryFrom(d), nil
}

// Replay returns a dead delivery to pending with a fresh attempt budget. The
// payload and delivery ID are unchanged, so receivers see the same envelope id.
func (svc *Service) Replay(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	d, err := svc.store.Requeue(ctx, delID, svc.now())
	if err != nil {
		return nil, err
	}
	svc.metrics.RecordReplay()
	svc.logger.InfoContext(ctx, "delivery replayed",
		"delivery_id", d.ID.String(),
		"endpoint_id", d.EndpointID.String(),
	)
	return d, nil
}

// ReplayBulk replays every entry matching opts and returns how many were
// requeued. Offset and Limit are ignored.
func (svc *Service) ReplayBulk(ctx context.Context, opts ListOpts) (int64, error) {
	ds, err := svc.store.ListByStatus(ctx, statusOf(opts), delivery.ListOpts{TenantID: opts.TenantID})
	if err != nil {
		return 0, err
	}

	var count int64
	for _, d := range ds {
		if !matches(EntryFrom(d), opts) {
			continue
		}
		if _, err := svc.Replay(ctx, d.ID); err != nil {
			if errors.Is(err, delivery.ErrNotRequeueable) {
				continue
			}
			return count, fmt.Errorf("courier/dlq: replay %s: %w", d.ID, err)
		}
		count++
	}
	return count, nil
}

// Count returns the number of dead-lettered deliveries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	counts, err := svc.store.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[delivery.StatusDeadLettered], nil
}

func statusOf(opts ListOpts) delivery.Status {
	if opts.Status == delivery.StatusFailed {
		return delivery.StatusFailed
	}
	return delivery.StatusDeadLettered
}

func matches(e *Entry, opts ListOpts) bool {
	if opts.EndpointID != nil && e.EndpointID.String() != opts.EndpointID.String() {
		return false
	}
	if opts.From != nil && e.FailedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && e.FailedAt.After(*opts.To) {
		return false
	}
	return true
}
