package domain

import (
	"github.com/google/uuid"
)

// NewRunID produces a time-ordered, globally unique run identifier:
// a compact UTC timestamp plus an 8-hex-char random suffix, e.g.
// "20240426T151000Z-9f3a1c2b". Lexical order follows start time, which keeps
// audit queries over run_id cheap to eyeball.
func NewRunID() string {
	ts := clock.Now().UTC().Format("20060102T150405Z")
	return ts + "-" + uuid.NewString()[:8]
}
