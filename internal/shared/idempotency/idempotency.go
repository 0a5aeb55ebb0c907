// Package idempotency stores replay records keyed by a client-supplied
// token, independent of the fingerprint-based cache. A replayed token
// returns the stored payload verbatim without re-invoking inference.
//
// Record does not guard against overwrites; the orchestration protocol
// checks before writing, and the write only happens after a successful
// fresh computation, never concurrently for the same token in normal use.
package idempotency

import (
	"context"
	"time"
)

// Ledger is the interface consumers depend on for token replay.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// CheckReplay returns the payload recorded for token, or found=false
	// when no live record exists.
	CheckReplay(ctx context.Context, token string) (payload []byte, found bool, err error)

	// Record stores payload under token with the given TTL. The TTL mirrors
	// the cache TTL assigned to the underlying response.
	Record(ctx context.Context, token string, payload []byte, ttl time.Duration) error
}
