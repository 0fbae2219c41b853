package delivery

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for webhook deliveries.
//
// Claim and CompleteAttempt are conditional writes: they are how workers
// coordinate without locks.
type Store interface {
	// EnqueueBatch creates the deliveries of one emission atomically.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// ListDue returns deliveries claimable at now: pending and due, or in
	// flight with an expired lease. Oldest NextAttemptAt first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// Claim moves a due delivery to in_flight under token until leaseUntil.
	// It returns ErrClaimConflict when the delivery is no longer due.
	Claim(ctx context.Context, delID id.ID, token string, now, leaseUntil time.Time) (*Delivery, error)

	// CompleteAttempt writes the result of an attempt and releases the lease.
	// It returns ErrLeaseLost unless d.LeaseToken still owns the delivery.
	CompleteAttempt(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID, or ErrNotFound.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListByEndpoint returns delivery history for an endpoint, newest first.
	ListByEndpoint(ctx context.Context, epID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries for an event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// ListByStatus returns deliveries in a status, newest first, optionally
	// restricted to opts.TenantID.
	ListByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Delivery, error)

	// CountByStatus returns the number of deliveries per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// Requeue returns a failed or dead-lettered delivery to pending with a
	// fresh attempt budget. Other statuses yield ErrNotRequeueable.
	Requeue(ctx context.Context, delID id.ID, now time.Time) (*Delivery, error)
}
