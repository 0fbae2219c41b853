package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/courier/id"
)

type emitEventRequest struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
}

func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenantID, err := emitTenant(r.Context(), req.TenantID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	em, err := h.courier.OnEvent(r.Context(), tenantID, req.Type, req.Data)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, em)
}

func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	ds, err := h.courier.DeliveriesForEvent(r.Context(), evtID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, visible(r.Context(), ds))
}
