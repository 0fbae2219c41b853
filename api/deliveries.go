package api

import (
	"net/http"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

func (h *Handler) workerTick(w http.ResponseWriter, r *http.Request) {
	report, err := h.courier.ScanOnce(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, err := scopedDelivery(r.Context(), h.courier, delID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) listEndpointDeliveries(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if err := checkEndpoint(r.Context(), h.courier, epID); err != nil {
		h.writeErr(w, r, err)
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Status: delivery.Status(queryParam(r, "status")),
	}

	ds, err := h.courier.DeliveriesForEndpoint(r.Context(), epID, opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ds)
}

func (h *Handler) getBreaker(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if err := checkEndpoint(r.Context(), h.courier, epID); err != nil {
		h.writeErr(w, r, err)
		return
	}

	snap, err := h.courier.BreakerState(r.Context(), epID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
