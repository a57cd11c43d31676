package route

import "strconv"

// EntityRef is a destination component reference: either a numeric id or a
// name that still needs resolution. The disambiguation happens once, at
// parse time, never again downstream.
type EntityRef struct {
	id   int64
	name string
	byID bool
}

// ParseEntityRef classifies a reference. Positive integers are ids,
// everything else is a name.
func ParseEntityRef(raw string) EntityRef {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return EntityRef{id: id, byID: true}
	}
	return EntityRef{name: raw}
}

// ByID reports whether the ref carries a numeric id.
func (r EntityRef) ByID() bool { return r.byID }

// ID returns the numeric id; valid only when ByID is true.
func (r EntityRef) ID() int64 { return r.id }

// Name returns the unresolved name; valid only when ByID is false.
func (r EntityRef) Name() string { return r.name }
