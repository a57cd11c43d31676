package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"creditgrid/internal/pricing"
)

type purchaseRequest struct {
	UserID      int64 `json:"user_id"`
	ConnectorID int64 `json:"connector_id"`
}

// NewPurchaseHandler returns POST /connectors/purchase: the one-time buy
// charge for a connector, settled irreversibly.
func NewPurchaseHandler(c *pricing.Calculator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req purchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.UserID == 0 || req.ConnectorID == 0 {
			writeError(w, http.StatusBadRequest, "user_id and connector_id required")
			return
		}

		if err := c.PurchaseConnector(r.Context(), req.UserID, req.ConnectorID); err != nil {
			logger.Warn("purchase rejected",
				zap.Int64("user", req.UserID),
				zap.Int64("connector", req.ConnectorID),
				zap.Error(err),
			)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
