package models

import (
	"testing"
	"time"
)

func TestPathAppendDoesNotMutate(t *testing.T) {
	base := Path{}.Append(Step{ToInstance: 1, ToInterface: "in"})

	a := base.Append(Step{ToInstance: 2, ToInterface: "in"})
	b := base.Append(Step{ToInstance: 3, ToInterface: "in"})

	if len(base) != 1 {
		t.Fatalf("base length = %d, append must not mutate", len(base))
	}
	if a[1].ToInstance != 2 || b[1].ToInstance != 3 {
		t.Fatalf("branches share storage: %d / %d", a[1].ToInstance, b[1].ToInstance)
	}
}

func TestPathLast(t *testing.T) {
	if Path(nil).Last() != nil {
		t.Fatal("empty path has no last step")
	}
	p := Path{}.Append(Step{ToInstance: 1}).Append(Step{ToInstance: 2})
	if last := p.Last(); last == nil || last.ToInstance != 2 {
		t.Fatalf("last = %+v", last)
	}
}

func TestPathWireRoundTrip(t *testing.T) {
	p := Path{}.Append(Step{
		FromInstance:  6,
		ToInstance:    5,
		FromInterface: "out",
		ToInterface:   "in",
		UsePrice:      100,
		UseTax:        10,
		ShareCost:     7,
		TransactionID: "42",
		ShareTxID:     "43",
		Fingerprint:   "fp",
		Size:          5,
		SentAt:        time.Now().UTC().Truncate(time.Second),
	})

	wire, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePath(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != p[0] {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodePathEmpty(t *testing.T) {
	p, err := DecodePath(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p) != 0 {
		t.Fatalf("path = %+v, want empty", p)
	}
}
