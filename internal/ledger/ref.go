package ledger

import (
	"fmt"
	"strconv"
)

// TransactionRef identifies a transaction to the ledger. It is either a real
// row id or the heartbeat sentinel: heartbeat refs make every ledger
// operation a no-op success, so liveness pings never touch storage.
//
// The sentinel token itself only exists at the wire boundary; inside the core
// the distinction is carried by this tagged type.
type TransactionRef struct {
	id        int64
	heartbeat bool
}

// Real references an existing transaction row.
func Real(id int64) TransactionRef {
	return TransactionRef{id: id}
}

// Heartbeat returns the no-op reference used by cron/liveness messages.
func Heartbeat() TransactionRef {
	return TransactionRef{heartbeat: true}
}

// IsHeartbeat reports whether the ref is the no-op sentinel.
func (r TransactionRef) IsHeartbeat() bool {
	return r.heartbeat
}

// ID returns the row id of a real reference. It is 0 for heartbeats.
func (r TransactionRef) ID() int64 {
	return r.id
}

// Wire renders the ref in its wire form: the decimal row id, or the
// configured heartbeat token.
func (r TransactionRef) Wire(heartbeatToken string) string {
	if r.heartbeat {
		return heartbeatToken
	}
	return strconv.FormatInt(r.id, 10)
}

// ParseRef converts a wire-form reference back into the tagged type. The
// comparison against the heartbeat token happens exactly once, here.
func ParseRef(raw, heartbeatToken string) (TransactionRef, error) {
	if raw == heartbeatToken && heartbeatToken != "" {
		return Heartbeat(), nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return TransactionRef{}, fmt.Errorf("%w: %q", ErrInvalidTransaction, raw)
	}
	return Real(id), nil
}
