package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"creditgrid/internal/ledger"
	"creditgrid/internal/models"
)

type holdRequest struct {
	FromUser  int64  `json:"from_user"`
	ToUser    int64  `json:"to_user,omitempty"`
	Price     int64  `json:"price"`
	TaxCost   int64  `json:"tax_cost"`
	CountCost int64  `json:"count_cost"`
	SizeCost  int64  `json:"size_cost"`
	QoSCost   int64  `json:"qos_cost"`
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
}

func (r holdRequest) input() ledger.HoldInput {
	t := models.TransactionType(r.Type)
	if t == "" {
		t = models.TypeUnknown
	}
	return ledger.HoldInput{
		FromUser:  r.FromUser,
		ToUser:    r.ToUser,
		Price:     r.Price,
		TaxCost:   r.TaxCost,
		CountCost: r.CountCost,
		SizeCost:  r.SizeCost,
		QoSCost:   r.QoSCost,
		Type:      t,
		Data:      r.Data,
	}
}

// NewHoldHandler returns POST /ledger/hold.
func NewHoldHandler(l *ledger.Ledger, heartbeatToken string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req holdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.FromUser == 0 {
			writeError(w, http.StatusBadRequest, "from_user required")
			return
		}

		id, err := l.Hold(r.Context(), req.input())
		if err != nil {
			logger.Warn("hold rejected", zap.Int64("from_user", req.FromUser), zap.Error(err))
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"transaction_id": ledger.Real(id).Wire(heartbeatToken),
		})
	}
}

type refRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (r refRequest) ref(heartbeatToken string) (ledger.TransactionRef, error) {
	return ledger.ParseRef(r.TransactionID, heartbeatToken)
}

func refEndpoint(op func(r *http.Request, ref ledger.TransactionRef) error, heartbeatToken string, logger *zap.Logger, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		ref, err := req.ref(heartbeatToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid transaction_id")
			return
		}

		if err := op(r, ref); err != nil {
			logger.Warn(name+" failed", zap.String("transaction_id", req.TransactionID), zap.Error(err))
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewAckHandler returns POST /ledger/ack.
func NewAckHandler(l *ledger.Ledger, heartbeatToken string, logger *zap.Logger) http.HandlerFunc {
	return refEndpoint(func(r *http.Request, ref ledger.TransactionRef) error {
		return l.Ack(r.Context(), ref)
	}, heartbeatToken, logger, "ack")
}

// NewConfirmHandler returns POST /ledger/confirm.
func NewConfirmHandler(l *ledger.Ledger, heartbeatToken string, logger *zap.Logger) http.HandlerFunc {
	return refEndpoint(func(r *http.Request, ref ledger.TransactionRef) error {
		return l.Confirm(r.Context(), ref)
	}, heartbeatToken, logger, "confirm")
}

// NewRefundHandler returns POST /ledger/refund.
func NewRefundHandler(l *ledger.Ledger, heartbeatToken string, logger *zap.Logger) http.HandlerFunc {
	return refEndpoint(func(r *http.Request, ref ledger.TransactionRef) error {
		return l.Refund(r.Context(), ref)
	}, heartbeatToken, logger, "refund")
}

// NewPayHandler returns POST /ledger/pay: hold, ack and confirm composed.
func NewPayHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req holdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.FromUser == 0 {
			writeError(w, http.StatusBadRequest, "from_user required")
			return
		}

		if err := l.Pay(r.Context(), req.input()); err != nil {
			logger.Warn("pay rejected", zap.Int64("from_user", req.FromUser), zap.Error(err))
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewSweepHandler returns POST /ledger/sweep.
func NewSweepHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reclaimed, err := l.Sweep(r.Context())
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
	}
}
