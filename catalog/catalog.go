// Package catalog holds the registry of webhook event types, the
// subscription pattern matcher, and JSON Schema payload validation.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

var (
	// ErrNotFound is returned for event types that were never registered.
	ErrNotFound = errors.New("courier: event type not found")

	// ErrDeprecated is returned by ValidatePayload for deprecated types in
	// strict mode.
	ErrDeprecated = errors.New("courier: event type is deprecated")
)

// SchemaError reports a payload that does not satisfy its event type schema.
type SchemaError struct {
	EventType string
	Err       error
}

func (e *SchemaError) Error() string {
	return "courier: payload does not match schema for " + e.EventType + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Catalog is the in-memory registry of webhook event types.
type Catalog struct {
	mu        sync.RWMutex
	types     map[string]*EventType
	validator *Validator
	logger    *slog.Logger
}

// New creates an empty Catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		types:     make(map[string]*EventType),
		validator: NewValidator(),
		logger:    logger,
	}
}

// RegisterOption configures Register behavior.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	metadata map[string]string
}

// WithMetadata sets metadata on a registered event type.
func WithMetadata(m map[string]string) RegisterOption {
	return func(o *registerOptions) { o.metadata = m }
}

// Register adds or replaces an event type definition. Re-registering a name
// keeps its ID and clears any deprecation. A schema that does not compile is
// rejected.
func (c *Catalog) Register(def WebhookDefinition, opts ...RegisterOption) (*EventType, error) {
	if err := ValidateName(def.Name); err != nil {
		return nil, fmt.Errorf("courier/catalog: register: %w", err)
	}
	if len(def.Schema) > 0 {
		if _, err := c.validator.Compile(def.Schema); err != nil {
			return nil, fmt.Errorf("courier/catalog: register %s: %w", def.Name, err)
		}
	}

	ro := registerOptions{}
	for _, o := range opts {
		o(&ro)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := c.types[def.Name]; ok {
		updated := *existing
		updated.Definition = def
		updated.IsDeprecated = false
		updated.DeprecatedAt = nil
		if ro.metadata != nil {
			updated.Metadata = ro.metadata
		}
		updated.Touch(now)
		c.types[def.Name] = &updated
		return &updated, nil
	}

	et := &EventType{
		Entity:     entity.At(now),
		ID:         id.NewEventTypeID(),
		Definition: def,
		Metadata:   ro.metadata,
	}
	c.types[def.Name] = et
	c.logger.Debug("event type registered", "event_type", def.Name)
	return et, nil
}

// Get returns an event type by name.
func (c *Catalog) Get(name string) (*EventType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	et, ok := c.types[name]
	if !ok {
		return nil, ErrNotFound
	}
	return et, nil
}

// List returns registered event types ordered by name.
func (c *Catalog) List(opts ListOpts) []*EventType {
	c.mu.RLock()
	out := make([]*EventType, 0, len(c.types))
	for _, et := range c.types {
		if et.IsDeprecated && !opts.IncludeDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		out = append(out, et)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b *EventType) int {
		return strings.Compare(a.Definition.Name, b.Definition.Name)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// Match returns the non-deprecated types a subscription pattern selects.
func (c *Catalog) Match(pattern string) []*EventType {
	var out []*EventType
	for _, et := range c.List(ListOpts{}) {
		if Match(pattern, et.Definition.Name) {
			out = append(out, et)
		}
	}
	return out
}

// Deprecate marks an event type as deprecated.
func (c *Catalog) Deprecate(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	et, ok := c.types[name]
	if !ok {
		return ErrNotFound
	}
	if et.IsDeprecated {
		return nil
	}
	now := time.Now().UTC()
	updated := *et
	updated.IsDeprecated = true
	updated.DeprecatedAt = &now
	updated.Touch(now)
	c.types[name] = &updated
	return nil
}

// ValidatePayload checks an emitted payload against its event type. Unknown
// and deprecated types are rejected only when strict is set; a payload is
// always checked against the schema of a known type.
func (c *Catalog) ValidatePayload(eventType string, payload []byte, strict bool) error {
	et, err := c.Get(eventType)
	if errors.Is(err, ErrNotFound) {
		if strict {
			return err
		}
		return nil
	}
	if et.IsDeprecated && strict {
		return ErrDeprecated
	}
	if err := c.validator.Validate(et.Definition.Schema, payload); err != nil {
		return &SchemaError{EventType: eventType, Err: err}
	}
	return nil
}
