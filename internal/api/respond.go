package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps the data-layer error taxonomy onto HTTP.
// Cross-tenant hits are an internal invariant breach, never a 403: the
// gateway should have made them impossible.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, gateway.ErrCrossTenant):
		respondError(w, http.StatusInternalServerError, "internal error")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// pathID parses a UUID path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
