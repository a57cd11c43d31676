package models

import "time"

// CreditPlan holds the per-user billing parameters consumed by the sliding
// window meter. Plans are owned by the billing configuration service and are
// read-only to this core.
type CreditPlan struct {
	UserID        int64   `db:"user_id" json:"user_id"`
	WindowSeconds int64   `db:"window_seconds" json:"window_seconds"`
	Factor        float64 `db:"factor" json:"factor"`
	Root          float64 `db:"root" json:"root"`
	FreeMessages  int64   `db:"free_messages" json:"free_messages"`
	ServiceLevel  string  `db:"service_level" json:"service_level"`
}

// Window returns the plan window as a duration.
func (p *CreditPlan) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// SlidingRecord is one metered message inside a user's window. Cost is 0 or 1.
// Records older than the plan window are pruned on every metering call.
type SlidingRecord struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Cost      int64     `db:"cost" json:"cost"`
}
