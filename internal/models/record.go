package models

import "time"

// Error record codes written by the forwarding pipeline.
const (
	ErrorCodeInsufficientCredit = 509
	ErrorCodeTransport          = 500
)

// ErrorRecord is a persisted billing or transport failure, kept for audit.
type ErrorRecord struct {
	ID        int64     `db:"id" json:"id"`
	Code      int       `db:"code" json:"code"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Message   string    `db:"message" json:"message"`
	Data      string    `db:"data" json:"data,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
