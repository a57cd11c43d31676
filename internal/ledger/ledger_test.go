package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"creditgrid/internal/models"
	"creditgrid/internal/storage/memory"
)

const (
	taxAccount  = int64(1)
	payer       = int64(10)
	recipient   = int64(20)
	creditQuota = "credits"
)

func newTestLedger(t *testing.T, ttlSeconds int64) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.SetQuota(payer, creditQuota, 10_000, 0, 0)
	cfg := Config{
		VATPercent:  21,
		TaxAccount:  taxAccount,
		CreditQuota: creditQuota,
		RefundQuota: creditQuota,
		TTLSeconds:  ttlSeconds,
	}
	return New(store, cfg, zap.NewNop()), store
}

func hold(t *testing.T, l *Ledger, in HoldInput) int64 {
	t.Helper()
	id, err := l.Hold(context.Background(), in)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	return id
}

func TestHoldDebitsExactTotal(t *testing.T) {
	l, store := newTestLedger(t, 3600)

	in := HoldInput{
		FromUser:  payer,
		ToUser:    recipient,
		Price:     100,
		TaxCost:   10,
		CountCost: 1,
		SizeCost:  2,
		QoSCost:   3,
		Type:      models.TypePerMessage,
		Data:      "fp",
	}
	id := hold(t, l, in)

	// VAT on 100 at 21% is 21, so tax becomes 31 and the total 137.
	want := int64(10_000 - (100 + 31 + 1 + 2 + 3))
	if got := store.QuotaValue(payer, creditQuota); got != want {
		t.Fatalf("payer quota = %d, want %d", got, want)
	}

	pending, ok := store.Pending(id)
	if !ok {
		t.Fatalf("pending transaction %d not found", id)
	}
	if pending.Acknowledged {
		t.Fatal("fresh hold must be unacknowledged")
	}
	if pending.Tax != 31 || pending.Price != 100 || pending.CountCost != 1 || pending.SizeCost != 2 || pending.QoSCost != 3 {
		t.Fatalf("pending fields mismatch: %+v", pending)
	}
	if pending.Type != models.TypePerMessage || pending.Data != "fp" {
		t.Fatalf("pending tag mismatch: %+v", pending)
	}
}

func TestHoldInsufficientCreditWritesNothing(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	store.SetQuota(payer, creditQuota, 50, 0, 0)

	_, err := l.Hold(context.Background(), HoldInput{FromUser: payer, Price: 100, Type: models.TypePerMessage})
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("want ErrInsufficientCredit, got %v", err)
	}
	if got := store.QuotaValue(payer, creditQuota); got != 50 {
		t.Fatalf("quota changed on failed hold: %d", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("no row may be created on failed hold")
	}
}

func TestConfirmRequiresAck(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	id := hold(t, l, HoldInput{FromUser: payer, ToUser: recipient, Price: 100, Type: models.TypePerMessage})
	before := store.QuotaValue(payer, creditQuota)

	err := l.Confirm(context.Background(), Real(id))
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("confirm before ack: want ErrInvalidTransaction, got %v", err)
	}
	if got := store.QuotaValue(payer, creditQuota); got != before {
		t.Fatalf("quota changed on failed confirm: %d", got)
	}
	if _, ok := store.Pending(id); !ok {
		t.Fatal("failed confirm must not delete the row")
	}
	if len(store.History()) != 0 {
		t.Fatal("failed confirm must not write history")
	}
}

func TestConfirmDistributesFunds(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	ctx := context.Background()

	id := hold(t, l, HoldInput{
		FromUser:  payer,
		ToUser:    recipient,
		Price:     100,
		TaxCost:   10,
		CountCost: 1,
		Type:      models.TypePerMessage,
	})
	if err := l.Ack(ctx, Real(id)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := l.Confirm(ctx, Real(id)); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if got := store.QuotaValue(recipient, creditQuota); got != 100 {
		t.Fatalf("recipient quota = %d, want 100", got)
	}
	// Tax 31 (10 + 21 VAT) and count 1 go to the tax account.
	if got := store.QuotaValue(taxAccount, creditQuota); got != 32 {
		t.Fatalf("tax account quota = %d, want 32", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("confirm must delete the pending row")
	}

	// One entry for the recipient, one per non-zero tax component.
	entries := store.History()
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
}

func TestRefundBeforeAckRestoresQuotaWithoutHistory(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	ctx := context.Background()

	id := hold(t, l, HoldInput{
		FromUser:  payer,
		ToUser:    recipient,
		Price:     100,
		TaxCost:   10,
		CountCost: 5,
		SizeCost:  4,
		QoSCost:   3,
		Type:      models.TypePerMessage,
	})
	if err := l.Refund(ctx, Real(id)); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// Only price+tax come back. Count, size and qos stay debited.
	if got := store.QuotaValue(payer, creditQuota); got != 10_000-(5+4+3) {
		t.Fatalf("payer quota after unacked refund = %d", got)
	}
	if len(store.History()) != 0 {
		t.Fatal("unacked refund must not write history")
	}
	if store.PendingCount() != 0 {
		t.Fatal("refund must delete the pending row")
	}
}

func TestRefundAfterAckSettlesInfrastructureCost(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	ctx := context.Background()

	id := hold(t, l, HoldInput{
		FromUser:  payer,
		ToUser:    recipient,
		Price:     100,
		TaxCost:   10,
		CountCost: 5,
		SizeCost:  4,
		QoSCost:   3,
		Type:      models.TypePerMessage,
	})
	if err := l.Ack(ctx, Real(id)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := l.Refund(ctx, Real(id)); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// The payer gets price+tax (131) back but not count+size+qos.
	if got := store.QuotaValue(payer, creditQuota); got != 10_000-(5+4+3) {
		t.Fatalf("payer quota = %d", got)
	}
	// The tax account keeps the infrastructure cost of the acknowledged
	// message.
	if got := store.QuotaValue(taxAccount, creditQuota); got != 5+4+3 {
		t.Fatalf("tax account quota = %d, want 12", got)
	}
	// price+tax entry to the payer plus one entry per component.
	if entries := store.History(); len(entries) != 4 {
		t.Fatalf("history entries = %d, want 4", len(entries))
	}
	if store.PendingCount() != 0 {
		t.Fatal("refund must delete the pending row")
	}
}

func TestAckIsOneShot(t *testing.T) {
	l, _ := newTestLedger(t, 3600)
	ctx := context.Background()

	id := hold(t, l, HoldInput{FromUser: payer, Price: 10, Type: models.TypePerMessage})
	if err := l.Ack(ctx, Real(id)); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := l.Ack(ctx, Real(id)); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("second ack: want ErrInvalidTransaction, got %v", err)
	}
}

func TestConfirmTwiceFails(t *testing.T) {
	l, _ := newTestLedger(t, 3600)
	ctx := context.Background()

	id := hold(t, l, HoldInput{FromUser: payer, ToUser: recipient, Price: 10, Type: models.TypePerMessage})
	if err := l.Ack(ctx, Real(id)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := l.Confirm(ctx, Real(id)); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if err := l.Confirm(ctx, Real(id)); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("second confirm: want ErrInvalidTransaction, got %v", err)
	}
}

func TestHeartbeatOperationsAreNoOps(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	ctx := context.Background()

	for name, op := range map[string]func(context.Context, TransactionRef) error{
		"ack":     l.Ack,
		"confirm": l.Confirm,
		"refund":  l.Refund,
	} {
		if err := op(ctx, Heartbeat()); err != nil {
			t.Fatalf("%s heartbeat: %v", name, err)
		}
	}
	if got := store.QuotaValue(payer, creditQuota); got != 10_000 {
		t.Fatalf("heartbeat ops touched storage: quota %d", got)
	}
	if store.PendingCount() != 0 || len(store.History()) != 0 {
		t.Fatal("heartbeat ops must never touch storage")
	}
}

func TestPayComposesHoldAckConfirm(t *testing.T) {
	l, store := newTestLedger(t, 3600)

	err := l.Pay(context.Background(), HoldInput{
		FromUser: payer,
		ToUser:   recipient,
		Price:    100,
		TaxCost:  10,
		Type:     models.TypeOneShot,
		Data:     "connector:7",
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	if got := store.QuotaValue(payer, creditQuota); got != 10_000-131 {
		t.Fatalf("payer quota = %d", got)
	}
	if got := store.QuotaValue(recipient, creditQuota); got != 100 {
		t.Fatalf("recipient quota = %d", got)
	}
	if store.PendingCount() != 0 {
		t.Fatal("pay must leave nothing pending")
	}
}

func TestSweepRefundsValuableAndDeletesWorthless(t *testing.T) {
	// TTL 0 makes every existing row stale immediately.
	l, store := newTestLedger(t, 0)
	ctx := context.Background()

	valuable := hold(t, l, HoldInput{FromUser: payer, Price: 50, Type: models.TypePerMessage})
	worthless := hold(t, l, HoldInput{FromUser: payer, CountCost: 2, Type: models.TypePerMessage})

	time.Sleep(5 * time.Millisecond)
	before := store.QuotaValue(payer, creditQuota)
	reclaimed, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("reclaimed = %d, want 2", reclaimed)
	}

	// The valuable hold is refunded (price 50 + VAT 11), the worthless one
	// hard-deleted without any quota mutation.
	if got := store.QuotaValue(payer, creditQuota); got != before+61 {
		t.Fatalf("payer quota = %d, want %d", got, before+61)
	}
	if _, ok := store.Pending(valuable); ok {
		t.Fatal("valuable stale row must be gone")
	}
	if _, ok := store.Pending(worthless); ok {
		t.Fatal("worthless stale row must be gone")
	}
}

func TestSweepSkipsFreshRows(t *testing.T) {
	l, store := newTestLedger(t, 3600)
	hold(t, l, HoldInput{FromUser: payer, Price: 50, Type: models.TypePerMessage})

	reclaimed, err := l.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0", reclaimed)
	}
	if store.PendingCount() != 1 {
		t.Fatal("fresh hold must survive the sweep")
	}
}

func TestVATRoundsUp(t *testing.T) {
	cases := []struct {
		percent int
		price   int64
		want    int64
	}{
		{21, 100, 21},
		{21, 1, 1},
		{21, 7, 2},
		{21, 0, 0},
		{0, 100, 0},
		{19, 50, 10},
	}
	for _, tc := range cases {
		if got := VAT(tc.percent, tc.price); got != tc.want {
			t.Fatalf("VAT(%d%%, %d) = %d, want %d", tc.percent, tc.price, got, tc.want)
		}
	}
}
