// Package api exposes Courier over HTTP: event emission, the worker tick,
// delivery history, breaker state, the dead-letter queue and stats.
//
// Handler serves the routes on a net/http ServeMux; ForgeAPI registers the
// same operations on a Forge router with OpenAPI metadata. The tenant a
// request acts for is read from the X-Tenant-ID header, which upstream auth
// middleware is expected to set.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/scope"
)

// TenantHeader carries the tenant a request is scoped to.
const TenantHeader = "X-Tenant-ID"

// Handler is the root HTTP handler for the Courier API.
type Handler struct {
	courier *courier.Courier
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler creates a new API handler.
func NewHandler(c *courier.Courier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		courier: c,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Events
	h.mux.HandleFunc("POST /events", h.emitEvent)
	h.mux.HandleFunc("GET /events/{id}/deliveries", h.listEventDeliveries)

	// Worker
	h.mux.HandleFunc("POST /worker/tick", h.workerTick)

	// Deliveries
	h.mux.HandleFunc("GET /deliveries/{id}", h.getDelivery)
	h.mux.HandleFunc("GET /endpoints/{id}/deliveries", h.listEndpointDeliveries)
	h.mux.HandleFunc("GET /endpoints/{id}/breaker", h.getBreaker)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(h.tenantScope(next)))
}

func (h *Handler) tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := r.Header.Get(TenantHeader); tenantID != "" {
			r = r.WithContext(scope.WithTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// statusFor maps Courier errors to HTTP status codes.
func statusFor(err error) int {
	var verr *courier.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, courier.ErrDeliveryNotFound),
		errors.Is(err, courier.ErrEndpointNotFound),
		errors.Is(err, dlq.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, courier.ErrNotReplayable):
		return http.StatusConflict
	case errors.Is(err, errTenantMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "api request failed",
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
