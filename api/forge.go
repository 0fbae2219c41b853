package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
	"github.com/xraph/courier/breaker"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/scope"
)

// ForgeAPI wires all Forge-style HTTP handlers together.
type ForgeAPI struct {
	courier  *courier.Courier
	log      forge.Logger
	basePath string
}

// NewForgeAPI creates a ForgeAPI for a Courier.
func NewForgeAPI(c *courier.Courier, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{
		courier: c,
		log:     log,
	}
}

// WithBasePath mounts every route under prefix.
func (a *ForgeAPI) WithBasePath(prefix string) *ForgeAPI {
	a.basePath = strings.TrimSuffix(prefix, "/")
	return a
}

// RegisterRoutes registers all Courier routes into the given Forge router
// with full OpenAPI metadata.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerEventRoutes(router)
	a.registerWorkerRoutes(router)
	a.registerDeliveryRoutes(router)
	a.registerDLQRoutes(router)
	a.registerStatsRoutes(router)
}

// scoped returns the request context carrying the tenant from the
// X-Tenant-ID header.
func scoped(ctx forge.Context, tenantID string) context.Context {
	return scope.WithTenant(ctx.Context(), tenantID)
}

// ---------------------------------------------------------------------------
// Event routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEventRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("events"))

	if err := g.POST("/events", a.emitEvent,
		forge.WithSummary("Emit event"),
		forge.WithDescription("Validates an event and creates one pending delivery per subscribed endpoint."),
		forge.WithOperationID("emitEvent"),
		forge.WithRequestSchema(EmitEventForgeRequest{}),
		forge.WithResponseSchema(http.StatusAccepted, "Emission", courier.Emission{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register emitEvent route", forge.Error(err))
	}

	if err := g.GET("/events/:eventId/deliveries", a.listEventDeliveries,
		forge.WithSummary("List event deliveries"),
		forge.WithDescription("Returns the deliveries created for an event."),
		forge.WithOperationID("listEventDeliveries"),
		forge.WithRequestSchema(ListEventDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Delivery{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEventDeliveries route", forge.Error(err))
	}
}

func (a *ForgeAPI) emitEvent(ctx forge.Context, req *EmitEventForgeRequest) (*courier.Emission, error) {
	c := scoped(ctx, req.Scope)

	tenantID, err := emitTenant(c, req.TenantID)
	if err != nil {
		return nil, mapError(err)
	}

	em, err := a.courier.OnEvent(c, tenantID, req.Type, req.Data)
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusAccepted, em)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listEventDeliveries(ctx forge.Context, req *ListEventDeliveriesForgeRequest) ([]*delivery.Delivery, error) {
	evtID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	c := scoped(ctx, req.Scope)
	ds, err := a.courier.DeliveriesForEvent(c, evtID)
	if err != nil {
		return nil, mapError(err)
	}

	return visible(c, ds), nil
}

// ---------------------------------------------------------------------------
// Worker routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerWorkerRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("worker"))

	if err := g.POST("/worker/tick", a.workerTick,
		forge.WithSummary("Run worker tick"),
		forge.WithDescription("Runs one scan pass: claims due deliveries and attempts them."),
		forge.WithOperationID("workerTick"),
		forge.WithResponseSchema(http.StatusOK, "Scan report", delivery.ScanReport{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register workerTick route", forge.Error(err))
	}
}

func (a *ForgeAPI) workerTick(ctx forge.Context, _ *WorkerTickForgeRequest) (*delivery.ScanReport, error) {
	report, err := a.courier.ScanOnce(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &report, nil
}

// ---------------------------------------------------------------------------
// Delivery routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDeliveryRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("deliveries"))

	if err := g.GET("/deliveries/:deliveryId", a.getDelivery,
		forge.WithSummary("Get delivery"),
		forge.WithDescription("Returns a delivery with its status and last attempt outcome."),
		forge.WithOperationID("getDelivery"),
		forge.WithResponseSchema(http.StatusOK, "Delivery details", delivery.Delivery{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getDelivery route", forge.Error(err))
	}

	if err := g.GET("/endpoints/:endpointId/deliveries", a.listEndpointDeliveries,
		forge.WithSummary("List endpoint deliveries"),
		forge.WithDescription("Returns the delivery history of an endpoint, newest first."),
		forge.WithOperationID("listEndpointDeliveries"),
		forge.WithRequestSchema(ListEndpointDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Delivery{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEndpointDeliveries route", forge.Error(err))
	}

	if err := g.GET("/endpoints/:endpointId/breaker", a.getBreaker,
		forge.WithSummary("Get breaker state"),
		forge.WithDescription("Returns the circuit breaker snapshot of an endpoint."),
		forge.WithOperationID("getBreaker"),
		forge.WithResponseSchema(http.StatusOK, "Breaker snapshot", breaker.Snapshot{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getBreaker route", forge.Error(err))
	}
}

func (a *ForgeAPI) getDelivery(ctx forge.Context, req *GetDeliveryForgeRequest) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(req.DeliveryID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	d, err := scopedDelivery(scoped(ctx, req.Scope), a.courier, delID)
	if err != nil {
		return nil, mapError(err)
	}

	return d, nil
}

func (a *ForgeAPI) listEndpointDeliveries(ctx forge.Context, req *ListEndpointDeliveriesForgeRequest) ([]*delivery.Delivery, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	c := scoped(ctx, req.Scope)
	if err := checkEndpoint(c, a.courier, epID); err != nil {
		return nil, mapError(err)
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	ds, err := a.courier.DeliveriesForEndpoint(c, epID, delivery.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
		Status: delivery.Status(req.Status),
	})
	if err != nil {
		return nil, mapError(err)
	}

	return ds, nil
}

func (a *ForgeAPI) getBreaker(ctx forge.Context, req *GetBreakerForgeRequest) (*breaker.Snapshot, error) {
	epID, err := id.ParseEndpointID(req.EndpointID)
	if err != nil {
		return nil, forge.BadRequest("invalid endpoint ID")
	}

	c := scoped(ctx, req.Scope)
	if err := checkEndpoint(c, a.courier, epID); err != nil {
		return nil, mapError(err)
	}

	snap, err := a.courier.BreakerState(c, epID)
	if err != nil {
		return nil, mapError(err)
	}

	return &snap, nil
}

// ---------------------------------------------------------------------------
// DLQ routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDLQRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("dlq"))

	if err := g.GET("/dlq", a.listDLQ,
		forge.WithSummary("List DLQ entries"),
		forge.WithDescription("Returns dead-lettered (or failed) deliveries, optionally filtered by tenant."),
		forge.WithOperationID("listDLQ"),
		forge.WithRequestSchema(ListDLQForgeRequest{}),
		forge.WithListResponse(dlq.Entry{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listDLQ route", forge.Error(err))
	}

	if err := g.POST("/dlq/:deliveryId/replay", a.replayDLQ,
		forge.WithSummary("Replay DLQ entry"),
		forge.WithDescription("Returns a dead delivery to pending with a fresh attempt budget."),
		forge.WithOperationID("replayDLQ"),
		forge.WithResponseSchema(http.StatusOK, "Replayed delivery", delivery.Delivery{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register replayDLQ route", forge.Error(err))
	}
}

func (a *ForgeAPI) listDLQ(ctx forge.Context, req *ListDLQForgeRequest) ([]*dlq.Entry, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	c := scoped(ctx, req.Scope)
	entries, err := a.courier.DLQ().List(c, dlq.ListOpts{
		Offset:   req.Offset,
		Limit:    limit,
		TenantID: dlqTenant(c, req.TenantID),
		Status:   delivery.Status(req.Status),
	})
	if err != nil {
		return nil, mapError(err)
	}

	return entries, nil
}

func (a *ForgeAPI) replayDLQ(ctx forge.Context, req *ReplayDLQForgeRequest) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(req.DeliveryID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	c := scoped(ctx, req.Scope)
	if _, err := scopedDelivery(c, a.courier, delID); err != nil {
		return nil, mapError(err)
	}

	d, err := a.courier.DLQ().Replay(c, delID)
	if err != nil {
		return nil, mapError(err)
	}

	return d, nil
}

// ---------------------------------------------------------------------------
// Stats routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerStatsRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("stats"))

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("Delivery statistics"),
		forge.WithDescription("Returns delivery counts per status."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "Delivery statistics", courier.Stats{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) getStats(ctx forge.Context, _ *StatsForgeRequest) (*courier.Stats, error) {
	stats, err := a.courier.Stats(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return stats, nil
}
