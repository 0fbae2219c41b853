package catalog

import "encoding/json"

// WebhookDefinition is the canonical description of a webhook event type.
// Definitions are registered at boot by the application emitting events.
type WebhookDefinition struct {
	// Name is the dot-separated event type name.
	// Convention: "<resource>.<action>", e.g. "invoice.created".
	Name string `json:"name"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema describing the payload shape.
	// When set, emitted payloads are validated against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Version is the API version of this event type.
	// Convention: date-based, e.g. "2025-01-01".
	Version string `json:"version,omitempty"`

	// Example is an optional example payload for documentation and testing.
	Example json.RawMessage `json:"example,omitempty"`
}
