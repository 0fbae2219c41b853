package catalog

import (
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// EventType is a registered webhook event type.
type EventType struct {
	entity.Entity

	// ID is the unique TypeID for this event type.
	ID id.ID `json:"id"`

	// Definition contains the webhook event type descriptor.
	Definition WebhookDefinition `json:"definition"`

	// IsDeprecated marks types that should no longer be emitted.
	IsDeprecated bool `json:"deprecated"`

	// DeprecatedAt is when the event type was deprecated.
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for event type listing.
type ListOpts struct {
	Offset            int
	Limit             int
	Group             string
	IncludeDeprecated bool
}
