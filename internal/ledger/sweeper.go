package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically reclaims abandoned holds. It is a correctness
// mechanism: a crashed caller leaves its holds pending, and the sweep is the
// only way those credits come back.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper builds the background sweeper.
func NewSweeper(l *Ledger, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{ledger: l, interval: interval, logger: logger}
}

// Run blocks, sweeping on every tick until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ledger.Sweep(ctx); err != nil {
				s.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}
