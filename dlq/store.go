package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// Store is the slice of delivery.Store the dead letter queue reads and
// requeues through. Dead letters are deliveries in a terminal failure
// status; there is no separate table.
type Store interface {
	GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error)
	ListByStatus(ctx context.Context, status delivery.Status, opts delivery.ListOpts) ([]*delivery.Delivery, error)
	CountByStatus(ctx context.Context) (map[delivery.Status]int64, error)
	Requeue(ctx context.Context, delID id.ID, now time.Time) (*delivery.Delivery, error)
}
