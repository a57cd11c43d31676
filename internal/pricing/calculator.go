// Package pricing computes VAT-inclusive prices, one-time connector
// purchases and ownership-boundary share costs.
package pricing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"creditgrid/internal/ledger"
	"creditgrid/internal/models"
	"creditgrid/internal/storage"
)

// SharePricer is the external collaborator that prices a message crossing an
// ownership boundary through a shared interface. The returned value is
// opaque to this core.
type SharePricer interface {
	ShareCost(ctx context.Context, fromOwner, toOwner, connectorID, size int64) (int64, error)
}

// Calculator prices connector usage and purchases.
type Calculator struct {
	ledger     *ledger.Ledger
	store      storage.Store
	shares     SharePricer
	vatPercent int
	logger     *zap.Logger
}

// New builds the calculator.
func New(l *ledger.Ledger, store storage.Store, shares SharePricer, vatPercent int, logger *zap.Logger) *Calculator {
	return &Calculator{
		ledger:     l,
		store:      store,
		shares:     shares,
		vatPercent: vatPercent,
		logger:     logger,
	}
}

// VATInclusive returns price plus the VAT on it, rounded up.
func (c *Calculator) VATInclusive(price int64) int64 {
	return price + ledger.VAT(c.vatPercent, price)
}

// PurchaseTag is the opaque data tag identifying purchases of a connector.
func PurchaseTag(connectorID int64) string {
	return fmt.Sprintf("connector:%d", connectorID)
}

// PurchaseConnector charges the one-time buy price for a connector, unless
// it is free or the user has already paid for at least as many purchases as
// they run active instances. The already-paid comparison and the payment are
// one atomic unit, so two concurrent deployments cannot both skip the
// charge. The payment is an irreversible one-shot (hold+ack+confirm).
func (c *Calculator) PurchaseConnector(ctx context.Context, user, connectorID int64) error {
	connector, err := c.store.ConnectorByID(ctx, connectorID)
	if err != nil {
		return fmt.Errorf("pricing: purchase: %w", err)
	}
	if connector.BuyPrice+connector.BuyTax == 0 {
		return nil
	}

	tag := PurchaseTag(connectorID)
	charged := false
	err = c.store.Atomic(ctx, func(tx storage.Tx) error {
		paid, err := tx.CountPurchases(user, connector.OwnerID, tag)
		if err != nil {
			return fmt.Errorf("pricing: purchase: count paid: %w", err)
		}
		active, err := tx.CountActiveInstances(user, connectorID)
		if err != nil {
			return fmt.Errorf("pricing: purchase: count instances: %w", err)
		}
		if paid >= active {
			return nil
		}

		charged = true
		return c.ledger.PayIn(tx, ledger.HoldInput{
			FromUser: user,
			ToUser:   connector.OwnerID,
			Price:    connector.BuyPrice,
			TaxCost:  connector.BuyTax,
			Type:     models.TypeOneShot,
			Data:     tag,
		})
	})
	if err != nil {
		return err
	}

	if charged {
		c.logger.Info("connector purchased",
			zap.Int64("user", user),
			zap.Int64("connector", connectorID),
			zap.Int64("price", connector.BuyPrice),
		)
	}
	return nil
}

// ShareCost delegates to the external share pricer.
func (c *Calculator) ShareCost(ctx context.Context, fromOwner, toOwner, connectorID, size int64) (int64, error) {
	cost, err := c.shares.ShareCost(ctx, fromOwner, toOwner, connectorID, size)
	if err != nil {
		return 0, fmt.Errorf("pricing: share cost: %w", err)
	}
	return cost, nil
}
