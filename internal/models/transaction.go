package models

import "time"

// TransactionType classifies what a pending transaction pays for.
type TransactionType string

const (
	TypeUnknown    TransactionType = "unknown"
	TypeOneShot    TransactionType = "oneshot"
	TypePerMessage TransactionType = "per_message"
	TypeShare      TransactionType = "share"
)

// Transaction is a pending monetary hold. All amounts are integer credits;
// Tax already includes the VAT computed at hold time. The row exists from
// hold until confirm or refund.
type Transaction struct {
	ID           int64           `db:"id" json:"id"`
	FromUser     int64           `db:"from_user" json:"from_user"`
	ToUser       int64           `db:"to_user" json:"to_user,omitempty"`
	Price        int64           `db:"price" json:"price"`
	Tax          int64           `db:"tax" json:"tax"`
	CountCost    int64           `db:"count_cost" json:"count_cost"`
	SizeCost     int64           `db:"size_cost" json:"size_cost"`
	QoSCost      int64           `db:"qos_cost" json:"qos_cost"`
	Type         TransactionType `db:"type" json:"type"`
	Data         string          `db:"data" json:"data,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	Acknowledged bool            `db:"acknowledged" json:"acknowledged"`
}

// Total is the amount debited from FromUser at hold time.
func (t *Transaction) Total() int64 {
	return t.Price + t.Tax + t.CountCost + t.SizeCost + t.QoSCost
}

// HistoryEntry is an immutable, append-only record of settled value movement.
// Entries are written only at confirm, or at refund of an acknowledged
// transaction.
type HistoryEntry struct {
	ID       int64           `db:"id" json:"id"`
	FromUser int64           `db:"from_user" json:"from_user"`
	ToUser   int64           `db:"to_user" json:"to_user"`
	Amount   int64           `db:"amount" json:"amount"`
	Date     time.Time       `db:"date" json:"date"`
	Type     TransactionType `db:"type" json:"type"`
	Data     string          `db:"data" json:"data,omitempty"`
}
