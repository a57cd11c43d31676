// Package storage defines the persistence and quota surface consumed by the
// ledger, meter, pricing and forwarding components. Implementations live in
// the postgres and memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"creditgrid/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInsufficientCredit is returned when a quota debit would breach the
	// plan minimum and overdraft was not permitted.
	ErrInsufficientCredit = errors.New("storage: insufficient credit")
)

// Tx is the state visible inside one atomic unit. Every check-then-act
// sequence (quota debit on hold, sliding window prune+count+insert, the
// already-purchased comparison) must run entirely within a single Atomic
// call.
type Tx interface {
	InsertTransaction(t *models.Transaction) (int64, error)
	Transaction(id int64) (*models.Transaction, error)
	// SetAcknowledged flips acknowledged false->true. It reports false when
	// the row is missing or was already acknowledged.
	SetAcknowledged(id int64) (bool, error)
	DeleteTransaction(id int64) (bool, error)

	AppendHistory(e models.HistoryEntry) error
	// CountPurchases counts settled one-shot purchases from one user to
	// another carrying the given data tag. The recipient matters: confirm
	// writes a tax-account entry with the same tag, which must not count.
	CountPurchases(from, to int64, data string) (int64, error)
	CountActiveInstances(owner, connector int64) (int64, error)

	Plan(user int64) (*models.CreditPlan, error)
	// SlidingStats returns the number of records at or after since, and the
	// sum of their costs.
	SlidingStats(user int64, since time.Time) (count int64, paid int64, err error)
	InsertSlidingRecord(r models.SlidingRecord) error
	PruneSlidingRecords(user int64, before time.Time) (int64, error)

	IncrementQuota(user int64, quota string) error
	// AddQuota credits a quota. Without allowExceed the balance is capped at
	// the quota ceiling.
	AddQuota(user int64, quota string, amount int64, allowExceed bool) error
	// SubtractQuota debits a quota. Without allowOverdraft it fails with
	// ErrInsufficientCredit when the result would fall below the quota floor.
	SubtractQuota(user int64, quota string, amount int64, allowOverdraft bool) error
}

// Store is the full persistence collaborator. Atomic runs fn as one
// serializable unit; the remaining methods are direct reads and writes that
// need no cross-row consistency.
type Store interface {
	Atomic(ctx context.Context, fn func(Tx) error) error

	StaleTransactions(ctx context.Context, cutoff time.Time) ([]models.Transaction, error)

	UserByName(ctx context.Context, name string) (int64, error)
	InstanceByID(ctx context.Context, id int64) (*models.Instance, error)
	InstanceByName(ctx context.Context, owner int64, name string) (*models.Instance, error)
	InterfaceByName(ctx context.Context, instance int64, name string, dir models.Direction) (*models.Interface, error)
	ConnectorByID(ctx context.Context, id int64) (*models.Connector, error)
	PlanByUser(ctx context.Context, user int64) (*models.CreditPlan, error)

	IncrementHits(ctx context.Context, instance int64) error
	RecordError(ctx context.Context, rec models.ErrorRecord) error

	Ping(ctx context.Context) error
	Close() error
}
