package handler

import (
	"net/http"
	"strconv"
	"time"
)

func (h *Handler) refreshPrices(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.reconciler.ReconcileAllImported(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// refreshStalePrices re-checks only products whose last check is older than
// the given threshold (?hours=, default handled by the service).
func (h *Handler) refreshStalePrices(w http.ResponseWriter, r *http.Request) {
	var threshold time.Duration
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "hours must be a positive integer"})
			return
		}
		threshold = time.Duration(hours) * time.Hour
	}

	outcome, err := h.reconciler.ReconcileStale(r.Context(), threshold)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}
