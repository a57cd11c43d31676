// Package forward orchestrates one message hop: resolve the route, price the
// hop, hold funds, hand off to the broker, and compensate every hold when
// anything downstream fails.
package forward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"creditgrid/internal/fingerprint"
	"creditgrid/internal/identity"
	"creditgrid/internal/ledger"
	"creditgrid/internal/meter"
	"creditgrid/internal/metrics"
	"creditgrid/internal/models"
	"creditgrid/internal/pricing"
	"creditgrid/internal/route"
	"creditgrid/internal/storage"
)

// ErrTransportFailure marks a failed broker handoff. Every hold made in the
// same call has been compensated by the time it surfaces.
var ErrTransportFailure = errors.New("forward: transport failure")

// Envelope is the payload handed to the broker for transmission.
type Envelope struct {
	TraceID      string      `json:"trace_id"`
	Payload      []byte      `json:"payload"`
	Path         models.Path `json:"path"`
	Owner        int64       `json:"owner"`
	Language     string      `json:"language"`
	Locality     string      `json:"locality"`
	ServiceLevel string      `json:"service_level"`
	Heartbeat    bool        `json:"heartbeat,omitempty"`
}

// Trace is the routing audit record handed to the broker.
type Trace struct {
	TraceID   string      `json:"trace_id"`
	Owner     int64       `json:"owner"`
	Path      models.Path `json:"path"`
	FromUser  int64       `json:"from_user"`
	ToUser    int64       `json:"to_user"`
	Language  string      `json:"language"`
	Heartbeat bool        `json:"heartbeat,omitempty"`
}

// Broker is the external transport collaborator. Failures from either method
// trigger the refund cascade.
type Broker interface {
	Transmit(ctx context.Context, env Envelope) error
	Trace(ctx context.Context, tr Trace) error
}

// ConnectorSource provides connector pricing rows; satisfied by the store
// and by the redis read-through cache.
type ConnectorSource interface {
	ConnectorByID(ctx context.Context, id int64) (*models.Connector, error)
}

// Config carries the pipeline's read-only parameters.
type Config struct {
	HeartbeatToken string
	SizePricePerKB int64
}

// Pipeline drives one hop per call; the broker drives the next one.
type Pipeline struct {
	resolver   *route.Resolver
	ledger     *ledger.Ledger
	meter      *meter.SlidingWindowMeter
	pricing    *pricing.Calculator
	store      storage.Store
	connectors ConnectorSource
	identity   identity.Resolver
	broker     Broker
	cfg        Config
	logger     *zap.Logger
}

// New wires the pipeline.
func New(
	resolver *route.Resolver,
	l *ledger.Ledger,
	m *meter.SlidingWindowMeter,
	p *pricing.Calculator,
	store storage.Store,
	connectors ConnectorSource,
	id identity.Resolver,
	broker Broker,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		ledger:     l,
		meter:      m,
		pricing:    p,
		store:      store,
		connectors: connectors,
		identity:   id,
		broker:     broker,
		cfg:        cfg,
		logger:     logger,
	}
}

// Input describes one hop request.
type Input struct {
	Payload     []byte
	Destination string
	Path        models.Path
	SenderToken string
	// Deliver selects an input interface (delivering into a connector);
	// originating messages resolve against output interfaces.
	Deliver bool
	// Heartbeat messages resolve the full route but skip every monetary
	// step, so liveness checks validate connectivity without billing anyone.
	Heartbeat bool
}

// Result reports the resolved hop.
type Result struct {
	TraceID       string      `json:"trace_id"`
	Step          models.Step `json:"step"`
	Path          models.Path `json:"path"`
	TransactionID string      `json:"transaction_id"`
}

// Forward performs one hop. Within the call the share hold (if any) is
// created before the per-message hold, and by return both are either fully
// committed or fully compensated; no partial success is ever visible.
func (p *Pipeline) Forward(ctx context.Context, in Input) (*Result, error) {
	sender, err := p.identity.OwnerOf(in.SenderToken)
	if err != nil {
		return nil, err
	}

	prev := in.Path.Last()
	step, err := p.resolver.Resolve(ctx, prev, in.Destination, in.Deliver)
	if err != nil {
		if errors.Is(err, route.ErrInvalidDestination) {
			metrics.Forwards.WithLabelValues(metrics.ResultInvalidDestination).Inc()
		}
		return nil, err
	}

	instance, err := p.store.InstanceByID(ctx, step.ToInstance)
	if err != nil {
		return nil, fmt.Errorf("forward: load instance: %w", err)
	}
	connector, err := p.connectors.ConnectorByID(ctx, instance.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("forward: load connector: %w", err)
	}
	owner := instance.OwnerID

	step.UsePrice = connector.UsePrice
	step.UseTax = connector.UseTax
	step.Size = int64(len(in.Payload))
	if prev != nil && prev.Fingerprint != "" {
		step.Fingerprint = prev.Fingerprint
	} else {
		step.Fingerprint = fingerprint.Sum(in.Payload)
	}

	prevOwner, err := p.previousOwner(ctx, prev, sender)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()

	var shareRef ledger.TransactionRef
	shareHeld := false
	if !in.Heartbeat && prevOwner != 0 && prevOwner != owner {
		shareRef, shareHeld, err = p.holdShare(ctx, step, owner, prevOwner, connector, traceID)
		if err != nil {
			return nil, err
		}
	}

	txRef := ledger.Heartbeat()
	if !in.Heartbeat {
		txRef, err = p.holdMessage(ctx, step, owner, connector, shareRef, shareHeld, traceID)
		if err != nil {
			return nil, err
		}
	}
	step.TransactionID = txRef.Wire(p.cfg.HeartbeatToken)

	path := in.Path.Append(*step)

	if err := p.store.IncrementHits(ctx, instance.ID); err != nil {
		p.logger.Warn("hit counter increment failed", zap.Int64("instance", instance.ID), zap.Error(err))
	}
	if err := p.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.IncrementQuota(owner, "messages")
	}); err != nil {
		p.logger.Warn("message counter increment failed", zap.Int64("user", owner), zap.Error(err))
	}

	env := Envelope{
		TraceID:      traceID,
		Payload:      in.Payload,
		Path:         path,
		Owner:        owner,
		Language:     connector.Language,
		Locality:     connector.Locality,
		ServiceLevel: connector.ServiceLevel,
		Heartbeat:    in.Heartbeat,
	}
	tr := Trace{
		TraceID:   traceID,
		Owner:     owner,
		Path:      path,
		FromUser:  sender,
		ToUser:    connector.OwnerID,
		Language:  connector.Language,
		Heartbeat: in.Heartbeat,
	}

	if err := p.broker.Transmit(ctx, env); err != nil {
		return nil, p.compensate(ctx, owner, txRef, shareRef, shareHeld, traceID, err)
	}
	if err := p.broker.Trace(ctx, tr); err != nil {
		return nil, p.compensate(ctx, owner, txRef, shareRef, shareHeld, traceID, err)
	}

	// The broker has the message: the share settlement is final.
	if shareHeld {
		if err := p.ledger.Confirm(ctx, shareRef); err != nil {
			// The sweep reclaims the pending share row later.
			p.logger.Error("share confirm failed", zap.Int64("share_tx", shareRef.ID()), zap.Error(err))
		}
	}

	metrics.Forwards.WithLabelValues(metrics.ResultOK).Inc()
	p.logger.Info("message forwarded",
		zap.String("trace_id", traceID),
		zap.Int64("instance", instance.ID),
		zap.Int64("owner", owner),
		zap.Bool("heartbeat", in.Heartbeat),
	)

	return &Result{
		TraceID:       traceID,
		Step:          *step,
		Path:          path,
		TransactionID: step.TransactionID,
	}, nil
}

// previousOwner determines who owned the message before this hop: the owner
// of the prior step's target instance, or the sender on the first hop.
func (p *Pipeline) previousOwner(ctx context.Context, prev *models.Step, sender int64) (int64, error) {
	if prev == nil {
		return sender, nil
	}
	instance, err := p.store.InstanceByID(ctx, prev.ToInstance)
	if err != nil {
		return 0, fmt.Errorf("forward: load previous instance: %w", err)
	}
	return instance.OwnerID, nil
}

// holdShare prices and reserves the ownership-boundary share owed by this
// hop's owner to the previous one. The hold is acknowledged immediately and
// confirmed only after the broker accepts the message.
func (p *Pipeline) holdShare(ctx context.Context, step *models.Step, owner, prevOwner int64, connector *models.Connector, traceID string) (ledger.TransactionRef, bool, error) {
	cost, err := p.pricing.ShareCost(ctx, owner, prevOwner, connector.ID, step.Size)
	if err != nil {
		return ledger.TransactionRef{}, false, err
	}
	if cost <= 0 {
		return ledger.TransactionRef{}, false, nil
	}

	id, err := p.ledger.Hold(ctx, ledger.HoldInput{
		FromUser: owner,
		ToUser:   prevOwner,
		Price:    cost,
		Type:     models.TypeShare,
		Data:     step.Fingerprint,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			p.recordError(ctx, models.ErrorCodeInsufficientCredit, owner, "share hold rejected", traceID)
			metrics.Forwards.WithLabelValues(metrics.ResultInsufficientCredit).Inc()
		}
		return ledger.TransactionRef{}, false, err
	}
	ref := ledger.Real(id)

	if err := p.ledger.Ack(ctx, ref); err != nil {
		p.refund(ctx, ref)
		return ledger.TransactionRef{}, false, fmt.Errorf("forward: share ack: %w", err)
	}

	step.ShareCost = cost
	step.ShareTxID = ref.Wire(p.cfg.HeartbeatToken)
	return ref, true, nil
}

// holdMessage meters and reserves the per-message charge from this hop's
// owner to the connector owner. On failure the share hold from the same call
// is refunded before the error surfaces.
func (p *Pipeline) holdMessage(ctx context.Context, step *models.Step, owner int64, connector *models.Connector, shareRef ledger.TransactionRef, shareHeld bool, traceID string) (ledger.TransactionRef, error) {
	countCost, err := p.meter.Meter(ctx, owner)
	if err != nil {
		if shareHeld {
			p.refund(ctx, shareRef)
		}
		return ledger.TransactionRef{}, err
	}
	sizeCost := p.sizeCost(step.Size)

	id, err := p.ledger.Hold(ctx, ledger.HoldInput{
		FromUser:  owner,
		ToUser:    connector.OwnerID,
		Price:     connector.UsePrice,
		TaxCost:   connector.UseTax,
		CountCost: countCost,
		SizeCost:  sizeCost,
		QoSCost:   connector.QoSPrice,
		Type:      models.TypePerMessage,
		Data:      step.Fingerprint,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			p.recordError(ctx, models.ErrorCodeInsufficientCredit, owner, "per-message hold rejected", traceID)
			metrics.Forwards.WithLabelValues(metrics.ResultInsufficientCredit).Inc()
		}
		if shareHeld {
			p.refund(ctx, shareRef)
		}
		return ledger.TransactionRef{}, err
	}

	step.CountCost = countCost
	step.SizeCost = sizeCost
	return ledger.Real(id), nil
}

func (p *Pipeline) sizeCost(size int64) int64 {
	if p.cfg.SizePricePerKB <= 0 || size <= 0 {
		return 0
	}
	blocks := (size + 1023) / 1024
	return blocks * p.cfg.SizePricePerKB
}

// compensate refunds every hold made in this call and surfaces the broker
// failure. No transaction created here is ever left pending.
func (p *Pipeline) compensate(ctx context.Context, owner int64, txRef, shareRef ledger.TransactionRef, shareHeld bool, traceID string, cause error) error {
	if !txRef.IsHeartbeat() {
		p.refund(ctx, txRef)
	}
	if shareHeld {
		p.refund(ctx, shareRef)
	}
	p.recordError(ctx, models.ErrorCodeTransport, owner, "broker handoff failed", traceID)
	metrics.Forwards.WithLabelValues(metrics.ResultTransportFailure).Inc()
	return fmt.Errorf("%w: %v", ErrTransportFailure, cause)
}

func (p *Pipeline) refund(ctx context.Context, ref ledger.TransactionRef) {
	if err := p.ledger.Refund(ctx, ref); err != nil {
		// The sweep reclaims anything the compensation could not.
		p.logger.Error("compensating refund failed", zap.Int64("transaction_id", ref.ID()), zap.Error(err))
	}
}

func (p *Pipeline) recordError(ctx context.Context, code int, user int64, message, traceID string) {
	rec := models.ErrorRecord{
		Code:      code,
		UserID:    user,
		Message:   message,
		Data:      traceID,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.RecordError(ctx, rec); err != nil {
		p.logger.Error("error record write failed", zap.Int("code", code), zap.Error(err))
	}
}
