// Package endpoint models tenant webhook endpoints: the persisted record, the
// storage contract, the management service, and the SSRF guard applied to
// their URLs.
package endpoint

import (
	"net/http"
	"strings"

	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Status is the lifecycle state of an endpoint.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// Endpoint represents a webhook delivery target registered by a tenant.
type Endpoint struct {
	entity.Entity

	// ID is the unique TypeID for this endpoint.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this endpoint.
	TenantID string `json:"tenant_id"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description of this endpoint.
	Description string `json:"description,omitempty"`

	// SecretCiphertext is the vault-sealed signing secret. Never serialized.
	SecretCiphertext string `json:"-"`

	// EventTypes are the subscription patterns for this endpoint.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Status is active or disabled. Disabled endpoints receive nothing.
	Status Status `json:"status"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the endpoint should receive deliveries.
func (e *Endpoint) Active() bool { return e.Status == StatusActive }

// Subscribes reports whether any of the endpoint's patterns match eventType.
func (e *Endpoint) Subscribes(eventType string) bool {
	return catalog.MatchAny(e.EventTypes, eventType)
}

// IsReservedHeader reports whether name is set by the delivery pipeline and
// cannot be overridden by custom headers.
func IsReservedHeader(name string) bool {
	canon := http.CanonicalHeaderKey(name)
	switch canon {
	case "Content-Type", "Content-Length", "User-Agent", "Host":
		return true
	}
	return strings.HasPrefix(canon, "X-Webhook-")
}
