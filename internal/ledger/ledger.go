package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"creditgrid/internal/metrics"
	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

var (
	// ErrInvalidTransaction marks an unknown, malformed or already-finalized
	// transaction reference.
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")
	// ErrInsufficientCredit is surfaced when a quota debit would breach the
	// plan minimum. No partial debit ever happens.
	ErrInsufficientCredit = storage.ErrInsufficientCredit
)

// Config carries the read-only billing parameters of the ledger.
type Config struct {
	VATPercent  int
	TaxAccount  int64
	CreditQuota string
	RefundQuota string
	TTLSeconds  int64
}

// Ledger owns the hold / ack / confirm / refund / sweep lifecycle of
// monetary transactions. It is the only component that mutates quota
// balances. Construct once with explicit dependencies; there is no
// package-level state.
type Ledger struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger
}

// New builds a ledger service.
func New(store storage.Store, cfg Config, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, cfg: cfg, logger: logger}
}

// VAT computes the value-added tax on a price, rounded up.
func VAT(percent int, price int64) int64 {
	if price <= 0 || percent <= 0 {
		return 0
	}
	return (price*int64(percent) + 99) / 100
}

// HoldInput describes a monetary hold request. TaxCost is the pre-VAT tax;
// the ledger folds the VAT on Price into it.
type HoldInput struct {
	FromUser  int64
	ToUser    int64
	Price     int64
	TaxCost   int64
	CountCost int64
	SizeCost  int64
	QoSCost   int64
	Type      models.TransactionType
	Data      string
}

// Hold debits price+tax+count+size+qos from the paying user and records a
// pending, unacknowledged transaction. The debit and the insert are one
// atomic unit: on ErrInsufficientCredit nothing is written.
func (l *Ledger) Hold(ctx context.Context, in HoldInput) (int64, error) {
	if in.FromUser == 0 {
		return 0, fmt.Errorf("ledger: hold: from user required")
	}

	var id int64
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		id, err = l.holdIn(tx, in)
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.Holds.Inc()
	l.logger.Debug("hold created",
		zap.Int64("transaction_id", id),
		zap.Int64("from_user", in.FromUser),
		zap.String("type", string(in.Type)),
	)
	return id, nil
}

func (l *Ledger) holdIn(tx storage.Tx, in HoldInput) (int64, error) {
	t := &models.Transaction{
		FromUser:  in.FromUser,
		ToUser:    in.ToUser,
		Price:     in.Price,
		Tax:       in.TaxCost + VAT(l.cfg.VATPercent, in.Price),
		CountCost: in.CountCost,
		SizeCost:  in.SizeCost,
		QoSCost:   in.QoSCost,
		Type:      in.Type,
		Data:      in.Data,
		CreatedAt: time.Now().UTC(),
	}

	if err := tx.SubtractQuota(in.FromUser, l.cfg.CreditQuota, t.Total(), false); err != nil {
		return 0, fmt.Errorf("ledger: hold: %w", err)
	}
	id, err := tx.InsertTransaction(t)
	if err != nil {
		return 0, fmt.Errorf("ledger: hold: insert: %w", err)
	}
	return id, nil
}

// Ack transitions a transaction from unacknowledged to acknowledged. The
// transition is one-shot: a second Ack fails with ErrInvalidTransaction.
func (l *Ledger) Ack(ctx context.Context, ref TransactionRef) error {
	if ref.IsHeartbeat() {
		return nil
	}
	return l.store.Atomic(ctx, func(tx storage.Tx) error {
		return l.ackIn(tx, ref.ID())
	})
}

func (l *Ledger) ackIn(tx storage.Tx, id int64) error {
	ok, err := tx.SetAcknowledged(id)
	if err != nil {
		return fmt.Errorf("ledger: ack: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: ack %d", ErrInvalidTransaction, id)
	}
	return nil
}

// Confirm finalizes an acknowledged transaction: the recipient receives the
// price, the tax account receives tax, count, size and qos as separate
// history entries, and the pending row is deleted. Confirming a missing or
// unacknowledged transaction fails without side effects.
func (l *Ledger) Confirm(ctx context.Context, ref TransactionRef) error {
	if ref.IsHeartbeat() {
		return nil
	}
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		return l.confirmIn(tx, ref.ID())
	})
	if err != nil {
		return err
	}
	metrics.Confirms.Inc()
	return nil
}

func (l *Ledger) confirmIn(tx storage.Tx, id int64) error {
	t, err := tx.Transaction(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: confirm %d", ErrInvalidTransaction, id)
		}
		return fmt.Errorf("ledger: confirm: %w", err)
	}
	if !t.Acknowledged {
		return fmt.Errorf("%w: confirm %d not acknowledged", ErrInvalidTransaction, id)
	}

	now := time.Now().UTC()
	if t.ToUser != 0 && t.Price > 0 {
		if err := tx.AddQuota(t.ToUser, l.cfg.CreditQuota, t.Price, false); err != nil {
			return fmt.Errorf("ledger: confirm: credit recipient: %w", err)
		}
		if err := tx.AppendHistory(models.HistoryEntry{
			FromUser: t.FromUser,
			ToUser:   t.ToUser,
			Amount:   t.Price,
			Date:     now,
			Type:     t.Type,
			Data:     t.Data,
		}); err != nil {
			return fmt.Errorf("ledger: confirm: history: %w", err)
		}
	}

	for _, amount := range []int64{t.Tax, t.CountCost, t.SizeCost, t.QoSCost} {
		if amount == 0 {
			continue
		}
		if err := l.creditTaxAccount(tx, t, amount, now); err != nil {
			return err
		}
	}

	if _, err := tx.DeleteTransaction(id); err != nil {
		return fmt.Errorf("ledger: confirm: delete: %w", err)
	}
	return nil
}

func (l *Ledger) creditTaxAccount(tx storage.Tx, t *models.Transaction, amount int64, now time.Time) error {
	if err := tx.AddQuota(l.cfg.TaxAccount, l.cfg.CreditQuota, amount, true); err != nil {
		return fmt.Errorf("ledger: credit tax account: %w", err)
	}
	if err := tx.AppendHistory(models.HistoryEntry{
		FromUser: t.FromUser,
		ToUser:   l.cfg.TaxAccount,
		Amount:   amount,
		Date:     now,
		Type:     t.Type,
		Data:     t.Data,
	}); err != nil {
		return fmt.Errorf("ledger: tax history: %w", err)
	}
	return nil
}

// Refund reverses a hold. The payer always gets price+tax back. If the
// transaction had been acknowledged, the tax account additionally receives
// count+size+qos: the infrastructure cost of an acknowledged but undelivered
// message is settled, not returned. That asymmetry is intentional.
func (l *Ledger) Refund(ctx context.Context, ref TransactionRef) error {
	if ref.IsHeartbeat() {
		return nil
	}
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		return l.refundIn(tx, ref.ID())
	})
	if err != nil {
		return err
	}
	metrics.Refunds.Inc()
	return nil
}

func (l *Ledger) refundIn(tx storage.Tx, id int64) error {
	t, err := tx.Transaction(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: refund %d", ErrInvalidTransaction, id)
		}
		return fmt.Errorf("ledger: refund: %w", err)
	}

	now := time.Now().UTC()
	returned := t.Price + t.Tax
	if returned > 0 {
		if err := tx.AddQuota(t.FromUser, l.cfg.RefundQuota, returned, true); err != nil {
			return fmt.Errorf("ledger: refund: credit payer: %w", err)
		}
	}

	if t.Acknowledged {
		if returned > 0 {
			if err := tx.AppendHistory(models.HistoryEntry{
				FromUser: t.ToUser,
				ToUser:   t.FromUser,
				Amount:   returned,
				Date:     now,
				Type:     t.Type,
				Data:     t.Data,
			}); err != nil {
				return fmt.Errorf("ledger: refund: history: %w", err)
			}
		}
		for _, amount := range []int64{t.CountCost, t.SizeCost, t.QoSCost} {
			if amount == 0 {
				continue
			}
			if err := l.creditTaxAccount(tx, t, amount, now); err != nil {
				return err
			}
		}
	}

	if _, err := tx.DeleteTransaction(id); err != nil {
		return fmt.Errorf("ledger: refund: delete: %w", err)
	}
	return nil
}

// Pay composes hold, ack and confirm as a single atomic unit. It is the
// irreversible path used for one-shot purchases.
func (l *Ledger) Pay(ctx context.Context, in HoldInput) error {
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		return l.PayIn(tx, in)
	})
	if err != nil {
		return err
	}
	metrics.Holds.Inc()
	metrics.Confirms.Inc()
	return nil
}

// PayIn runs the hold+ack+confirm composition against an already-open atomic
// unit, so callers can bind it to their own preconditions.
func (l *Ledger) PayIn(tx storage.Tx, in HoldInput) error {
	id, err := l.holdIn(tx, in)
	if err != nil {
		return err
	}
	if err := l.ackIn(tx, id); err != nil {
		return err
	}
	return l.confirmIn(tx, id)
}

// Sweep reclaims transactions older than the configured time-to-live: holds
// with monetary value are refunded, zero-value rows are hard-deleted. A
// failure on one row never stops the sweep; it is logged and the loop moves
// on. Returns the number of rows reclaimed.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(l.cfg.TTLSeconds) * time.Second)
	stale, err := l.store.StaleTransactions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep: list stale: %w", err)
	}

	reclaimed := 0
	for _, t := range stale {
		if t.Price > 0 || t.Tax > 0 {
			if err := l.Refund(ctx, Real(t.ID)); err != nil {
				l.logger.Warn("sweep: refund failed",
					zap.Int64("transaction_id", t.ID),
					zap.Error(err),
				)
				continue
			}
		} else {
			err := l.store.Atomic(ctx, func(tx storage.Tx) error {
				_, derr := tx.DeleteTransaction(t.ID)
				return derr
			})
			if err != nil {
				l.logger.Warn("sweep: delete failed",
					zap.Int64("transaction_id", t.ID),
					zap.Error(err),
				)
				continue
			}
		}
		reclaimed++
		metrics.SweepReclaimed.Inc()
	}

	if reclaimed > 0 {
		l.logger.Info("sweep reclaimed stale transactions", zap.Int("count", reclaimed))
	}
	return reclaimed, nil
}
