// Package replay detects duplicate submissions of identical signed
// payloads. The nonce set is the only cross-request mutable state besides
// the rate counters; entries are time-bounded so the set never grows
// without limit.
package replay

import (
	"context"
	"time"
)

// NonceStore is an atomic set-if-absent store with per-entry TTL.
// SetIfAbsent returns true when the nonce was newly inserted; false means
// the same payload was already submitted within the TTL window. The
// insertion must be atomic across concurrent submissions of the identical
// payload: exactly one caller wins.
type NonceStore interface {
	SetIfAbsent(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	Close()
}
