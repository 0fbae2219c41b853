package delivery

import (
	"encoding/json"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Status represents the current state of a delivery.
type Status string

const (
	// StatusPending indicates the delivery is awaiting an attempt.
	StatusPending Status = "pending"

	// StatusInFlight indicates a worker holds the lease and is attempting it.
	StatusInFlight Status = "in_flight"

	// StatusDelivered indicates the receiver answered 2xx.
	StatusDelivered Status = "delivered"

	// StatusFailed indicates a fatal, non-retryable outcome: the endpoint was
	// disabled or deleted, its URL became unsafe, or its secret could not be
	// decrypted.
	StatusFailed Status = "failed"

	// StatusDeadLettered indicates the retry budget was exhausted.
	StatusDeadLettered Status = "dead_lettered"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInFlight, StatusDelivered, StatusFailed, StatusDeadLettered}

// Terminal reports whether no further automatic attempt will be made.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusDeadLettered
}

// Delivery is one event addressed to one endpoint, with its attempt state.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID identifies the emitted event. Shared by the fan-out.
	EventID id.ID `json:"event_id"`

	// EndpointID references the target endpoint.
	EndpointID id.ID `json:"endpoint_id"`

	// TenantID is the tenant the event was emitted for.
	TenantID string `json:"tenant_id"`

	// EventType is the emitted event type name.
	EventType string `json:"event_type"`

	// Payload is the event data, immutable after creation.
	Payload json.RawMessage `json:"payload"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// AttemptCount is the number of attempts that reached the receiver or
	// failed trying. Deferrals are not counted.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the retry budget before dead-lettering.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the delivery becomes due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LeaseExpiresAt bounds the current worker's claim while in flight.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// LeaseToken identifies the claim. Never serialized.
	LeaseToken string `json:"-"`

	// LastResponseCode is the HTTP status code from the most recent attempt.
	LastResponseCode int `json:"last_response_code,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastResponse is the response body from the most recent attempt (capped at 1KB).
	LastResponse string `json:"last_response,omitempty"`

	// LastLatencyMs is the latency in milliseconds of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// CompletedAt is when the delivery reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Due reports whether the delivery can be claimed at now.
func (d *Delivery) Due(now time.Time) bool {
	switch d.Status {
	case StatusPending:
		return !d.NextAttemptAt.After(now)
	case StatusInFlight:
		return d.LeaseExpiresAt == nil || !d.LeaseExpiresAt.After(now)
	}
	return false
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Status   Status
	TenantID string
}

// Envelope is the JSON body posted to receivers.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// EnvelopeFor builds the body for d. The id is the delivery ID, stable across
// retries, so receivers can de-duplicate.
func EnvelopeFor(d *Delivery) Envelope {
	data := d.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Envelope{
		ID:        d.ID.String(),
		Type:      d.EventType,
		CreatedAt: d.CreatedAt.UTC(),
		Data:      data,
	}
}
