// Package meter implements the degressive per-message count surcharge.
package meter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

// SlidingWindowMeter charges a count unit based on recent message volume.
// Free messages cost nothing, and the charge frequency grows roughly with
// the root-th root of traffic volume.
type SlidingWindowMeter struct {
	store  storage.Store
	logger *zap.Logger
}

// New builds the meter.
func New(store storage.Store, logger *zap.Logger) *SlidingWindowMeter {
	return &SlidingWindowMeter{store: store, logger: logger}
}

// Meter prices one message for the user and records it. The prune, the count
// and the insert run as one atomic unit; concurrent callers never observe a
// half-updated window. Returns 0 or 1. Users without a credit plan are not
// surcharged.
func (m *SlidingWindowMeter) Meter(ctx context.Context, user int64) (int64, error) {
	var cost int64
	err := m.store.Atomic(ctx, func(tx storage.Tx) error {
		plan, err := tx.Plan(user)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("meter: load plan: %w", err)
		}

		now := time.Now().UTC()
		windowStart := now.Add(-plan.Window())
		if _, err := tx.PruneSlidingRecords(user, windowStart); err != nil {
			return fmt.Errorf("meter: prune: %w", err)
		}

		prior, paid, err := tx.SlidingStats(user, windowStart)
		if err != nil {
			return fmt.Errorf("meter: stats: %w", err)
		}

		cost = Surcharge(plan, prior+1, paid)
		if err := tx.InsertSlidingRecord(models.SlidingRecord{
			UserID:    user,
			CreatedAt: now,
			Cost:      cost,
		}); err != nil {
			return fmt.Errorf("meter: insert record: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if cost > 0 {
		m.logger.Debug("count surcharge applied", zap.Int64("user", user))
	}
	return cost, nil
}

// Surcharge computes the charge for the n-th in-window message (n counts the
// message being metered) given the sum already paid inside the window:
//
//	cumulated = floor(factor * (n + 1 - free)^(1/root))
//
// and the message costs one unit when cumulated exceeds paid. A non-positive
// base or root yields no charge.
func Surcharge(plan *models.CreditPlan, n, paid int64) int64 {
	base := float64(n + 1 - plan.FreeMessages)
	if base <= 0 || plan.Root <= 0 {
		return 0
	}
	cumulated := int64(math.Floor(plan.Factor * math.Pow(base, 1/plan.Root)))
	if cumulated > paid {
		return 1
	}
	return 0
}
