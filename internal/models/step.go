package models

import (
	"encoding/json"
	"time"
)

// Step describes one routing hop and the costs attached to it. Transaction
// ids are carried in wire form (decimal id, or the heartbeat token) because
// the path crosses process boundaries.
//
// JSON keys are deliberately short: the serialized path travels with every
// message hop.
type Step struct {
	FromInstance  int64     `json:"fi,omitempty"`
	ToInstance    int64     `json:"ti"`
	FromInterface string    `json:"ff,omitempty"`
	ToInterface   string    `json:"tf"`
	UsePrice      int64     `json:"up,omitempty"`
	UseTax        int64     `json:"ut,omitempty"`
	CountCost     int64     `json:"cc,omitempty"`
	SizeCost      int64     `json:"sc,omitempty"`
	ShareCost     int64     `json:"sh,omitempty"`
	TransactionID string    `json:"tx,omitempty"`
	ShareTxID     string    `json:"stx,omitempty"`
	Fingerprint   string    `json:"fp,omitempty"`
	Size          int64     `json:"sz,omitempty"`
	SentAt        time.Time `json:"at"`
}

// Path is the ordered, append-only provenance of a message across instance
// boundaries. Each hop only knows the next one, so the path is serialized at
// every hop boundary to keep routing decentralized yet auditable.
type Path []Step

// Last returns the most recent step, or nil for an empty path.
func (p Path) Last() *Step {
	if len(p) == 0 {
		return nil
	}
	return &p[len(p)-1]
}

// Append returns a new path extended with the given step. The receiver is
// never mutated.
func (p Path) Append(step Step) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, step)
}

// Encode serializes the path to its compact wire form.
func (p Path) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePath parses a serialized path. Empty input yields an empty path.
func DecodePath(data []byte) (Path, error) {
	if len(data) == 0 {
		return Path{}, nil
	}
	var p Path
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}
