package api

import (
	"encoding/json"
)

// ---------------------------------------------------------------------------
// Event requests
// ---------------------------------------------------------------------------

// EmitEventForgeRequest binds the body for POST /events.
type EmitEventForgeRequest struct {
	Scope    string          `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	Type     string          `description:"Event type name"                 json:"type"`
	TenantID string          `description:"Tenant identifier"               json:"tenant_id,omitempty"`
	Data     json.RawMessage `description:"Event payload"                   json:"data"`
}

// ListEventDeliveriesForgeRequest binds the path for GET /events/:eventId/deliveries.
type ListEventDeliveriesForgeRequest struct {
	Scope   string `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	EventID string `description:"Event identifier"                path:"eventId"`
}

// ---------------------------------------------------------------------------
// Worker requests
// ---------------------------------------------------------------------------

// WorkerTickForgeRequest is empty: POST /worker/tick has no parameters.
type WorkerTickForgeRequest struct{}

// ---------------------------------------------------------------------------
// Delivery requests
// ---------------------------------------------------------------------------

// GetDeliveryForgeRequest binds the path for GET /deliveries/:deliveryId.
type GetDeliveryForgeRequest struct {
	Scope      string `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	DeliveryID string `description:"Delivery identifier"             path:"deliveryId"`
}

// ListEndpointDeliveriesForgeRequest binds path + query for GET /endpoints/:endpointId/deliveries.
type ListEndpointDeliveriesForgeRequest struct {
	Scope      string `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	EndpointID string `description:"Endpoint identifier"             path:"endpointId"`
	Status     string `description:"Filter by status"                query:"status"`
	Offset     int    `description:"Pagination offset"               query:"offset"`
	Limit      int    `description:"Page size (default 50)"          query:"limit"`
}

// GetBreakerForgeRequest binds the path for GET /endpoints/:endpointId/breaker.
type GetBreakerForgeRequest struct {
	Scope      string `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	EndpointID string `description:"Endpoint identifier"             path:"endpointId"`
}

// ---------------------------------------------------------------------------
// DLQ requests
// ---------------------------------------------------------------------------

// ListDLQForgeRequest binds query parameters for GET /dlq.
type ListDLQForgeRequest struct {
	Scope    string `description:"Tenant the request is scoped to"     header:"X-Tenant-ID"`
	TenantID string `description:"Filter by tenant"                    query:"tenant_id"`
	Status   string `description:"dead_lettered (default) or failed"   query:"status"`
	Offset   int    `description:"Pagination offset"                   query:"offset"`
	Limit    int    `description:"Page size (default 50)"              query:"limit"`
}

// ReplayDLQForgeRequest binds the path for POST /dlq/:deliveryId/replay.
type ReplayDLQForgeRequest struct {
	Scope      string `description:"Tenant the request is scoped to" header:"X-Tenant-ID"`
	DeliveryID string `description:"Delivery identifier"             path:"deliveryId"`
}

// ---------------------------------------------------------------------------
// Stats requests
// ---------------------------------------------------------------------------

// StatsForgeRequest is empty: GET /stats has no parameters.
type StatsForgeRequest struct{}
