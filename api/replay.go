package api

import (
	"net/http"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		TenantID: dlqTenant(r.Context(), queryParam(r, "tenant_id")),
		Status:   delivery.Status(queryParam(r, "status")),
	}

	entries, err := h.courier.DLQ().List(r.Context(), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	if _, err := scopedDelivery(r.Context(), h.courier, delID); err != nil {
		h.writeErr(w, r, err)
		return
	}

	d, err := h.courier.DLQ().Replay(r.Context(), delID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}
