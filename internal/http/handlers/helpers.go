package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditgrid/internal/forward"
	"creditgrid/internal/identity"
	"creditgrid/internal/ledger"
	"creditgrid/internal/route"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps core error taxonomy to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredit):
		writeError(w, http.StatusPaymentRequired, "insufficient credit")
	case errors.Is(err, ledger.ErrInvalidTransaction):
		writeError(w, http.StatusConflict, "invalid transaction")
	case errors.Is(err, route.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "invalid destination")
	case errors.Is(err, identity.ErrInvalidIdentity):
		writeError(w, http.StatusUnauthorized, "invalid identity")
	case errors.Is(err, forward.ErrTransportFailure):
		writeError(w, http.StatusBadGateway, "transport failure")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
