package pricing

import "context"

// FlatSharePricer is the default share-pricing collaborator: a fixed price
// for every ownership boundary crossing. Deployments with negotiated share
// tariffs plug in their own SharePricer.
type FlatSharePricer struct {
	Price int64
}

// ShareCost returns the flat price.
func (f FlatSharePricer) ShareCost(context.Context, int64, int64, int64, int64) (int64, error) {
	return f.Price, nil
}
