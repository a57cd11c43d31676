package forward

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"creditgrid/internal/fingerprint"
	"creditgrid/internal/ledger"
	"creditgrid/internal/meter"
	"creditgrid/internal/models"
	"creditgrid/internal/pricing"
	"creditgrid/internal/route"
	"creditgrid/internal/storage/memory"
)

const (
	senderUser = int64(10) // owns instance 5
	peerUser   = int64(20) // owns instance 6
	devUser    = int64(30) // publishes connector 100
	taxAccount = int64(1)
	quotaName  = "credits"
)

type staticIdentity map[string]int64

func (s staticIdentity) OwnerOf(token string) (int64, error) {
	id, ok := s[token]
	if !ok {
		return 0, fmt.Errorf("unknown token %q", token)
	}
	return id, nil
}

type fakeBroker struct {
	envelopes   []Envelope
	traces      []Trace
	transmitErr error
	traceErr    error
}

func (b *fakeBroker) Transmit(_ context.Context, env Envelope) error {
	if b.transmitErr != nil {
		return b.transmitErr
	}
	b.envelopes = append(b.envelopes, env)
	return nil
}

func (b *fakeBroker) Trace(_ context.Context, tr Trace) error {
	if b.traceErr != nil {
		return b.traceErr
	}
	b.traces = append(b.traces, tr)
	return nil
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *memory.Store, *fakeBroker) {
	t.Helper()
	store := memory.New()
	store.SetQuota(senderUser, quotaName, 10_000, 0, 0)
	store.AddConnector(models.Connector{
		ID:       100,
		OwnerID:  devUser,
		UsePrice: 100,
		UseTax:   10,
		Language: "go",
		Locality: "eu",
	})
	store.AddInstance(models.Instance{ID: 5, OwnerID: senderUser, ConnectorID: 100, Name: "proc", Active: true})
	store.AddInstance(models.Instance{ID: 6, OwnerID: peerUser, ConnectorID: 100, Name: "feed", Active: true})
	store.AddInterface(models.Interface{ID: 1, InstanceID: 5, Name: "in", Direction: models.DirectionInput})
	store.AddInterface(models.Interface{ID: 2, InstanceID: 6, Name: "in", Direction: models.DirectionInput})

	logger := zap.NewNop()
	l := ledger.New(store, ledger.Config{
		VATPercent:  21,
		TaxAccount:  taxAccount,
		CreditQuota: quotaName,
		RefundQuota: quotaName,
		TTLSeconds:  3600,
	}, logger)
	calc := pricing.New(l, store, pricing.FlatSharePricer{Price: 7}, 21, logger)
	broker := &fakeBroker{}

	pipe := New(
		route.NewResolver(store),
		l,
		meter.New(store, logger),
		calc,
		store,
		store,
		staticIdentity{"tok10": senderUser, "tok20": peerUser},
		broker,
		cfg,
		logger,
	)
	return pipe, store, broker
}

func defaultConfig() Config {
	return Config{HeartbeatToken: "cron"}
}

func TestForwardFirstHop(t *testing.T) {
	pipe, store, broker := newTestPipeline(t, defaultConfig())
	payload := []byte("hello")

	res, err := pipe.Forward(context.Background(), Input{
		Payload:     payload,
		Destination: "5+in",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// use price 100 + tax (10 + VAT 21) held from the instance owner.
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000-131 {
		t.Fatalf("owner quota = %d, want %d", got, 10_000-131)
	}
	if store.PendingCount() != 1 {
		t.Fatalf("pending transactions = %d, want 1", store.PendingCount())
	}

	if len(res.Path) != 1 {
		t.Fatalf("path length = %d, want 1", len(res.Path))
	}
	step := res.Step
	if step.ToInstance != 5 || step.ToInterface != "in" {
		t.Fatalf("step target = %d/%q", step.ToInstance, step.ToInterface)
	}
	if step.UsePrice != 100 || step.UseTax != 10 {
		t.Fatalf("step costs = %d/%d", step.UsePrice, step.UseTax)
	}
	if step.Fingerprint != fingerprint.Sum(payload) {
		t.Fatal("first hop must derive the fingerprint from the payload")
	}
	if step.Size != int64(len(payload)) {
		t.Fatalf("step size = %d", step.Size)
	}
	if step.TransactionID == "" || step.TransactionID == "cron" {
		t.Fatalf("transaction id = %q", step.TransactionID)
	}

	if len(broker.envelopes) != 1 || len(broker.traces) != 1 {
		t.Fatalf("broker calls = %d/%d, want 1/1", len(broker.envelopes), len(broker.traces))
	}
	env := broker.envelopes[0]
	if env.Owner != senderUser || env.Language != "go" || env.Locality != "eu" {
		t.Fatalf("envelope = %+v", env)
	}
	if env.TraceID == "" || env.TraceID != res.TraceID {
		t.Fatalf("trace id = %q vs %q", env.TraceID, res.TraceID)
	}
	tr := broker.traces[0]
	if tr.FromUser != senderUser || tr.ToUser != devUser {
		t.Fatalf("trace parties = %d -> %d", tr.FromUser, tr.ToUser)
	}

	if store.Hits(5) != 1 {
		t.Fatalf("instance hits = %d, want 1", store.Hits(5))
	}
	if got := store.QuotaValue(senderUser, "messages"); got != 1 {
		t.Fatalf("message counter = %d, want 1", got)
	}
}

func TestForwardAcrossOwnershipBoundary(t *testing.T) {
	pipe, store, _ := newTestPipeline(t, defaultConfig())

	// The message arrives from instance 6, owned by a different user, so
	// this hop owes a share to the previous owner.
	prior := models.Path{}.Append(models.Step{
		ToInstance:  6,
		ToInterface: "in",
		Fingerprint: "carried",
	})

	res, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		Path:        prior,
		SenderToken: "tok20",
		Deliver:     true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// Share 7 + VAT 2 plus the per-message 131 debited from this owner.
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000-9-131 {
		t.Fatalf("owner quota = %d, want %d", got, 10_000-9-131)
	}
	// The share settles once the broker has the message.
	if got := store.QuotaValue(peerUser, quotaName); got != 7 {
		t.Fatalf("previous owner quota = %d, want 7", got)
	}
	if got := store.QuotaValue(taxAccount, quotaName); got != 2 {
		t.Fatalf("tax account quota = %d, want 2", got)
	}
	// Only the per-message hold stays pending for the delivery ack.
	if store.PendingCount() != 1 {
		t.Fatalf("pending transactions = %d, want 1", store.PendingCount())
	}

	step := res.Step
	if step.ShareCost != 7 || step.ShareTxID == "" {
		t.Fatalf("share fields = %d/%q", step.ShareCost, step.ShareTxID)
	}
	if step.Fingerprint != "carried" {
		t.Fatal("later hops must carry the prior fingerprint")
	}
	if step.FromInstance != 6 {
		t.Fatalf("from instance = %d, want 6", step.FromInstance)
	}
	if len(res.Path) != 2 {
		t.Fatalf("path length = %d, want 2", len(res.Path))
	}
}

func TestForwardBrokerFailureCompensates(t *testing.T) {
	pipe, store, broker := newTestPipeline(t, defaultConfig())
	broker.transmitErr = errors.New("broker down")

	prior := models.Path{}.Append(models.Step{ToInstance: 6, ToInterface: "in", Fingerprint: "carried"})
	_, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		Path:        prior,
		SenderToken: "tok20",
		Deliver:     true,
	})
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("want ErrTransportFailure, got %v", err)
	}

	// Both the share and the per-message hold are refunded in full.
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000 {
		t.Fatalf("owner quota = %d, want 10000", got)
	}
	if got := store.QuotaValue(peerUser, quotaName); got != 0 {
		t.Fatalf("previous owner quota = %d, want 0", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("no transaction may be left pending after compensation")
	}

	records := store.ErrorRecords()
	if len(records) != 1 || records[0].Code != models.ErrorCodeTransport {
		t.Fatalf("error records = %+v", records)
	}
}

func TestForwardTraceFailureCompensates(t *testing.T) {
	pipe, store, broker := newTestPipeline(t, defaultConfig())
	broker.traceErr = errors.New("trace sink down")

	_, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("want ErrTransportFailure, got %v", err)
	}
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000 {
		t.Fatalf("owner quota = %d, want 10000", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("no transaction may be left pending after compensation")
	}
}

func TestForwardInsufficientCredit(t *testing.T) {
	pipe, store, broker := newTestPipeline(t, defaultConfig())
	store.SetQuota(senderUser, quotaName, 100, 0, 0)

	_, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("want ErrInsufficientCredit, got %v", err)
	}

	if got := store.QuotaValue(senderUser, quotaName); got != 100 {
		t.Fatalf("owner quota = %d, want 100", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("no transaction may be left pending")
	}
	records := store.ErrorRecords()
	if len(records) != 1 || records[0].Code != models.ErrorCodeInsufficientCredit {
		t.Fatalf("error records = %+v", records)
	}
	if len(broker.envelopes) != 0 {
		t.Fatal("nothing may reach the broker when the hold fails")
	}
}

func TestForwardShareHeldThenMessageHoldFails(t *testing.T) {
	pipe, store, _ := newTestPipeline(t, defaultConfig())
	// Enough for the share (9) but not for the per-message hold (131).
	store.SetQuota(senderUser, quotaName, 50, 0, 0)

	prior := models.Path{}.Append(models.Step{ToInstance: 6, ToInterface: "in", Fingerprint: "carried"})
	_, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		Path:        prior,
		SenderToken: "tok20",
		Deliver:     true,
	})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("want ErrInsufficientCredit, got %v", err)
	}

	// The share hold is rolled back: the owner is made whole and the
	// previous owner receives nothing.
	if got := store.QuotaValue(senderUser, quotaName); got != 50 {
		t.Fatalf("owner quota = %d, want 50", got)
	}
	if got := store.QuotaValue(peerUser, quotaName); got != 0 {
		t.Fatalf("previous owner quota = %d, want 0", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("no transaction may be left pending")
	}
}

func TestForwardHeartbeatSkipsBilling(t *testing.T) {
	pipe, store, broker := newTestPipeline(t, defaultConfig())

	res, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("ping"),
		Destination: "5+in",
		SenderToken: "tok20", // boundary crossing would normally owe a share
		Deliver:     true,
		Heartbeat:   true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if got := store.QuotaValue(senderUser, quotaName); got != 10_000 {
		t.Fatalf("owner quota = %d, heartbeats must not bill", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("heartbeats must not create transactions")
	}
	if res.TransactionID != "cron" {
		t.Fatalf("transaction id = %q, want heartbeat token", res.TransactionID)
	}
	if len(broker.envelopes) != 1 || !broker.envelopes[0].Heartbeat {
		t.Fatal("heartbeat envelope must reach the broker flagged")
	}
	if store.Hits(5) != 1 {
		t.Fatal("heartbeats still count as hits")
	}
}

func TestForwardInvalidDestination(t *testing.T) {
	pipe, store, _ := newTestPipeline(t, defaultConfig())

	_, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "nope",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if !errors.Is(err, route.ErrInvalidDestination) {
		t.Fatalf("want ErrInvalidDestination, got %v", err)
	}
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000 {
		t.Fatalf("owner quota = %d, resolution failure must not bill", got)
	}
}

func TestForwardUnknownSender(t *testing.T) {
	pipe, _, _ := newTestPipeline(t, defaultConfig())

	if _, err := pipe.Forward(context.Background(), Input{
		Destination: "5+in",
		SenderToken: "bogus",
		Deliver:     true,
	}); err == nil {
		t.Fatal("unknown sender token must fail the forward")
	}
}

func TestForwardSizeSurcharge(t *testing.T) {
	pipe, store, _ := newTestPipeline(t, Config{HeartbeatToken: "cron", SizePricePerKB: 2})
	payload := make([]byte, 1500) // two 1 KiB blocks

	res, err := pipe.Forward(context.Background(), Input{
		Payload:     payload,
		Destination: "5+in",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Step.SizeCost != 4 {
		t.Fatalf("size cost = %d, want 4", res.Step.SizeCost)
	}
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000-131-4 {
		t.Fatalf("owner quota = %d, want %d", got, 10_000-131-4)
	}
}

func TestForwardCountSurcharge(t *testing.T) {
	pipe, store, _ := newTestPipeline(t, defaultConfig())
	// A plan with no free allowance charges from the first message.
	store.AddPlan(models.CreditPlan{UserID: senderUser, WindowSeconds: 3600, Factor: 1, Root: 1})

	res, err := pipe.Forward(context.Background(), Input{
		Payload:     []byte("hop"),
		Destination: "5+in",
		SenderToken: "tok10",
		Deliver:     true,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Step.CountCost != 1 {
		t.Fatalf("count cost = %d, want 1", res.Step.CountCost)
	}
	if got := store.QuotaValue(senderUser, quotaName); got != 10_000-131-1 {
		t.Fatalf("owner quota = %d, want %d", got, 10_000-131-1)
	}
}
