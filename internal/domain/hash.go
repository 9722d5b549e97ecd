package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPayload returns the sha256 hex digest of the exact payload bytes.
// Deterministic by construction: the same bytes always hash the same, and a
// single-byte difference yields a different digest. Used to spot identical
// re-fetches in the raw archive.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
