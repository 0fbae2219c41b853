package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/catalog"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/sharedstate"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/vault"
)

// Emission is the result of OnEvent: the event ID shared by the fan-out and
// one pending delivery per subscribed endpoint.
type Emission struct {
	EventID    id.ID                `json:"event_id"`
	TenantID   string               `json:"tenant_id"`
	EventType  string               `json:"event_type"`
	Deliveries []*delivery.Delivery `json:"deliveries"`
}

// Stats is a point-in-time view of the delivery queue.
type Stats struct {
	Deliveries  map[delivery.Status]int64 `json:"deliveries"`
	DeadLetters int64                     `json:"dead_letters"`
	Failed      int64                     `json:"failed"`
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() error {
	cfg := c.config

	if c.metricFactory != nil {
		c.metrics = observability.NewMetrics(c.metricFactory)
	}
	if c.tracerProvider != nil {
		c.tracer = observability.NewTracerFrom(c.tracerProvider)
	} else {
		c.tracer = observability.NewTracer()
	}

	v, err := vault.New(vault.Config{
		MasterKey:   cfg.MasterKey,
		KeyID:       cfg.MasterKeyID,
		RetiredKeys: cfg.RetiredMasterKeys,
		Production:  cfg.Production(),
		CacheTTL:    cfg.SecretCacheTTL,
		Now:         c.now,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("courier: secret vault: %w", err)
	}
	c.vault = v

	c.guard = endpoint.NewGuard(cfg.AllowPrivateNetworks, c.resolver)
	c.catalog = catalog.New(c.logger)
	c.endpointSvc = endpoint.NewService(c.store, c.vault, c.guard, c.logger)
	c.limiter = ratelimit.New(c.now)

	if c.sharedState == nil {
		c.sharedState = sharedstate.NewLocal(c.now)
	}
	c.breaker = breaker.New(c.sharedState, breaker.Config{
		FailureThreshold:       cfg.FailureThreshold,
		OpenDuration:           cfg.OpenDuration,
		OpenDurationMultiplier: cfg.OpenDurationMultiplier,
		MaxOpenDuration:        cfg.MaxOpenDuration,
		ProbeTimeout:           cfg.ProbeTimeout,
		StateTTL:               cfg.BreakerStateTTL,
	},
		breaker.WithClock(c.now),
		breaker.WithLogger(c.logger),
		breaker.WithTransitionHook(c.onBreakerTransition),
	)

	if c.sender == nil {
		switch cfg.SenderMode {
		case SenderNoop:
			c.sender = delivery.NewNoopSender(c.logger)
		default:
			c.sender = delivery.NewHTTPSender(c.guard.Control)
		}
	}

	c.executor = delivery.NewExecutor(delivery.Deps{
		Store:     c.store,
		Endpoints: c.store,
		Secrets:   c.vault,
		Breaker:   c.breaker,
		Sender:    c.sender,
		Guard:     c.guard,
		Limiter:   c.limiter,
	}, delivery.ExecutorConfig{
		RequestTimeout: cfg.RequestTimeout,
		Backoff: delivery.Backoff{
			Base:       cfg.BackoffBase,
			Multiplier: cfg.BackoffMultiplier,
			Max:        cfg.BackoffMax,
			Jitter:     cfg.BackoffJitter,
		},
		Metrics: c.metrics,
		Tracer:  c.tracer,
		Now:     c.now,
	}, c.logger)

	c.engine = delivery.NewEngine(c.store, c.executor, delivery.EngineConfig{
		Concurrency:   cfg.Concurrency,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		LeaseDuration: cfg.LeaseDuration,
		ScanSchedule:  cfg.ScanSchedule,
		Metrics:       c.metrics,
		Tracer:        c.tracer,
		Now:           c.now,
	}, c.logger)

	c.dlqSvc = dlq.NewService(c.store, c.metrics, c.logger)
	return nil
}

// onBreakerTransition records transition metrics. breaker.Service logs them.
func (c *Courier) onBreakerTransition(_ context.Context, _ string, from, to breaker.State) {
	c.metrics.RecordBreakerTransition(string(from), string(to))
}

// Start begins the delivery engine.
func (c *Courier) Start(ctx context.Context) error {
	return c.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine, waiting at most
// Config.ShutdownTimeout for in-flight deliveries.
func (c *Courier) Stop(ctx context.Context) error {
	if c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}
	return c.engine.Stop(ctx)
}

// RegisterEventType registers a webhook event type definition in the catalog.
func (c *Courier) RegisterEventType(def catalog.WebhookDefinition, opts ...catalog.RegisterOption) (*catalog.EventType, error) {
	return c.catalog.Register(def, opts...)
}

// OnEvent validates an event and fans it out: one pending delivery per
// active endpoint of tenantID subscribed to eventType, due immediately and
// enqueued in a single batch. An event no endpoint subscribes to yields an
// Emission without deliveries.
func (c *Courier) OnEvent(ctx context.Context, tenantID, eventType string, payload json.RawMessage) (*Emission, error) {
	ctx, span := c.tracer.StartEmitSpan(ctx, tenantID, eventType)
	defer span.End()

	if err := c.validateEvent(tenantID, eventType, payload); err != nil {
		return nil, err
	}

	endpoints, err := c.store.Resolve(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("courier: resolve endpoints: %w", err)
	}

	em := &Emission{
		EventID:    id.NewEventID(),
		TenantID:   tenantID,
		EventType:  eventType,
		Deliveries: make([]*delivery.Delivery, 0, len(endpoints)),
	}
	if len(endpoints) == 0 {
		c.logger.DebugContext(ctx, "event has no subscribers",
			"event_id", em.EventID.String(),
			"event_type", eventType,
			"tenant_id", tenantID,
		)
		c.metrics.RecordEmission(eventType, 0)
		return em, nil
	}

	now := c.now().UTC()
	for _, ep := range endpoints {
		em.Deliveries = append(em.Deliveries, &delivery.Delivery{
			Entity:        entity.At(now),
			ID:            id.NewDeliveryID(),
			EventID:       em.EventID,
			EndpointID:    ep.ID,
			TenantID:      tenantID,
			EventType:     eventType,
			Payload:       append(json.RawMessage(nil), payload...),
			Status:        delivery.StatusPending,
			MaxAttempts:   c.config.MaxAttempts,
			NextAttemptAt: now,
		})
	}

	if err := c.store.EnqueueBatch(ctx, em.Deliveries); err != nil {
		return nil, fmt.Errorf("courier: enqueue deliveries: %w", err)
	}

	c.metrics.RecordEmission(eventType, len(em.Deliveries))
	c.logger.DebugContext(ctx, "event emitted",
		"event_id", em.EventID.String(),
		"event_type", eventType,
		"tenant_id", tenantID,
		"endpoints", len(endpoints),
	)
	return em, nil
}

func (c *Courier) validateEvent(tenantID, eventType string, payload json.RawMessage) error {
	if strings.TrimSpace(tenantID) == "" {
		return &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if strings.TrimSpace(eventType) == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}
	if !json.Valid(payload) {
		return &ValidationError{Field: "payload", Message: "must be valid JSON"}
	}

	err := c.catalog.ValidatePayload(eventType, payload, c.config.StrictEventTypes)
	var schemaErr *catalog.SchemaError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		return &ValidationError{Field: "event_type", Message: "unknown event type " + eventType}
	case errors.Is(err, catalog.ErrDeprecated):
		return &ValidationError{Field: "event_type", Message: "event type " + eventType + " is deprecated"}
	case errors.As(err, &schemaErr):
		return &ValidationError{Field: "payload", Message: schemaErr.Err.Error()}
	default:
		return err
	}
}

// ScanOnce runs one pass of the delivery worker: claims due deliveries and
// attempts them. It is the body of the background loop and of the worker
// tick endpoint.
func (c *Courier) ScanOnce(ctx context.Context) (delivery.ScanReport, error) {
	return c.engine.ScanOnce(ctx)
}

// Delivery returns a delivery by ID.
func (c *Courier) Delivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return c.store.GetDelivery(ctx, delID)
}

// DeliveriesForEndpoint returns the delivery history of an endpoint, newest first.
func (c *Courier) DeliveriesForEndpoint(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	return c.store.ListByEndpoint(ctx, epID, opts)
}

// DeliveriesForEvent returns the deliveries created for an event.
func (c *Courier) DeliveriesForEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	return c.store.ListByEvent(ctx, evtID)
}

// BreakerState returns the circuit breaker snapshot of an endpoint. An
// endpoint that never failed reports closed.
func (c *Courier) BreakerState(ctx context.Context, epID id.ID) (breaker.Snapshot, error) {
	return c.breaker.State(ctx, epID.String())
}

// ResetBreaker closes an endpoint's circuit breaker.
func (c *Courier) ResetBreaker(ctx context.Context, epID id.ID) error {
	return c.breaker.Reset(ctx, epID.String())
}

// Stats counts deliveries per status.
func (c *Courier) Stats(ctx context.Context) (*Stats, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier: count deliveries: %w", err)
	}
	return &Stats{
		Deliveries:  counts,
		DeadLetters: counts[delivery.StatusDeadLettered],
		Failed:      counts[delivery.StatusFailed],
	}, nil
}

// VerifySignature checks a signature header against body, accepting
// timestamps within Config.SignatureTolerance. Receivers embedding Courier
// use it to authenticate inbound webhooks.
func (c *Courier) VerifySignature(secret, header string, body []byte) error {
	return signature.VerifyAt(secret, header, body, c.config.SignatureTolerance, c.now())
}

// Config returns the effective configuration.
func (c *Courier) Config() Config {
	return c.config
}

// Endpoints returns the endpoint management service.
func (c *Courier) Endpoints() *endpoint.Service {
	return c.endpointSvc
}

// Catalog returns the event type catalog.
func (c *Courier) Catalog() *catalog.Catalog {
	return c.catalog
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}

// DLQ returns the DLQ service.
func (c *Courier) DLQ() *dlq.Service {
	return c.dlqSvc
}

// Vault returns the secret vault.
func (c *Courier) Vault() *vault.Vault {
	return c.vault
}

// Breaker returns the circuit breaker service.
func (c *Courier) Breaker() *breaker.Service {
	return c.breaker
}
