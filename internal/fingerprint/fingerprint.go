// Package fingerprint derives content fingerprints for message payloads.
package fingerprint

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Sum returns the hex-encoded blake2b-256 fingerprint of the payload. The
// fingerprint is derived once, on the first hop, and carried along the path
// afterwards.
func Sum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
