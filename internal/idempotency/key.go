// Package idempotency derives the deterministic fingerprint used to
// deduplicate work items and echoed to the broker as clientOrderId (spec §4.3).
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const keyLength = 32

// Params is the tuple the key is derived from.
type Params struct {
	StrategyID string
	Symbol     string
	Side       string
	SignalHash string
	// TimeBucket overrides the default floor(now/60s) bucket when non-zero,
	// letting a caller widen or narrow the dedup window.
	TimeBucket int64
}

// DefaultBucket returns floor(t/60s) as a Unix-second bucket index.
func DefaultBucket(t time.Time) int64 {
	return t.Unix() / 60
}

// Key computes the 32-hex-character idempotency key for p. The same value
// is echoed to the broker as clientOrderId.
func Key(p Params) string {
	bucket := p.TimeBucket
	if bucket == 0 {
		bucket = DefaultBucket(time.Now())
	}
	canonical := fmt.Sprintf("%s|%s|%s|%s|%d", p.StrategyID, p.Symbol, p.Side, p.SignalHash, bucket)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:keyLength]
}
