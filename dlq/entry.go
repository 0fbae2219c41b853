package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

// Entry is a delivery that automatic retries gave up on, as shown to
// operators deciding whether to replay it.
type Entry struct {
	// DeliveryID references the dead delivery. Replay uses it.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// EndpointID references the target endpoint.
	EndpointID id.ID `json:"endpoint_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// TenantID identifies the tenant that owns the event.
	TenantID string `json:"tenant_id"`

	// Status is dead_lettered (budget exhausted) or failed (fatal).
	Status delivery.Status `json:"status"`

	// Payload is the event data that failed to deliver.
	Payload json.RawMessage `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// FailedAt is when the delivery reached its terminal status.
	FailedAt time.Time `json:"failed_at"`
}

// EntryFrom renders a terminal delivery as an Entry.
func EntryFrom(d *delivery.Delivery) *Entry {
	failedAt := d.UpdatedAt
	if d.CompletedAt != nil {
		failedAt = *d.CompletedAt
	}
	return &Entry{
		DeliveryID:     d.ID,
		EventID:        d.EventID,
		EndpointID:     d.EndpointID,
		EventType:      d.EventType,
		TenantID:       d.TenantID,
		Status:         d.Status,
		Payload:        d.Payload,
		Error:          d.LastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: d.LastResponseCode,
		FailedAt:       failedAt,
	}
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset   int
	Limit    int
	TenantID string

	// Status selects dead_lettered (the default) or failed entries.
	Status delivery.Status

	// EndpointID, From and To narrow ReplayBulk.
	EndpointID *id.ID
	From       *time.Time
	To         *time.Time
}
