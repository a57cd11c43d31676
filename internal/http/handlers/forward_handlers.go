package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"creditgrid/internal/forward"
	"creditgrid/internal/models"
)

const identityHeader = "X-Identity-Token"

type messageRequest struct {
	Destination string          `json:"destination"`
	Payload     []byte          `json:"payload"`
	Path        json.RawMessage `json:"path,omitempty"`
}

func (m messageRequest) input(r *http.Request, deliver, heartbeat bool) (forward.Input, bool) {
	path, err := models.DecodePath(m.Path)
	if err != nil {
		return forward.Input{}, false
	}
	return forward.Input{
		Payload:     m.Payload,
		Destination: m.Destination,
		Path:        path,
		SenderToken: r.Header.Get(identityHeader),
		Deliver:     deliver,
		Heartbeat:   heartbeat,
	}, true
}

func messageEndpoint(p *forward.Pipeline, logger *zap.Logger, deliver, heartbeat bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Destination == "" {
			writeError(w, http.StatusBadRequest, "destination required")
			return
		}

		in, ok := req.input(r, deliver, heartbeat)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}

		result, err := p.Forward(r.Context(), in)
		if err != nil {
			logger.Warn("hop rejected", zap.String("destination", req.Destination), zap.Error(err))
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// NewSendHandler returns POST /messages/send: originate a message through an
// output interface.
func NewSendHandler(p *forward.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return messageEndpoint(p, logger, false, false)
}

// NewForwardHandler returns POST /messages/forward: deliver a message into
// the next instance's input interface.
func NewForwardHandler(p *forward.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return messageEndpoint(p, logger, true, false)
}

// NewCronHandler returns POST /messages/cron: a heartbeat hop that resolves
// the full route without billing anyone.
func NewCronHandler(p *forward.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return messageEndpoint(p, logger, true, true)
}
