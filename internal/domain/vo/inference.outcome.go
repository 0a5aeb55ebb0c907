package vo

import "time"

// HitSource distinguishes the three ways a request can resolve without a
// fresh inference run. The HTTP layer collapses all three into cache_hit,
// but the distinction is kept here for logging and request history.
type HitSource string

const (
	SourceFresh           HitSource = "fresh"
	SourceReplay          HitSource = "replay"
	SourceCache           HitSource = "cache"
	SourceContentionCache HitSource = "contention_cache"
)

// InferenceOutcome is what the orchestrator hands back on success.
type InferenceOutcome struct {
	// Payload is the serialized kind-specific result. For idempotency
	// replays it is byte-identical to the originally recorded response.
	Payload []byte

	// CacheHit is true for every source except SourceFresh.
	CacheHit bool

	// TTL is the remaining cache lifetime on hits, or the TTL assigned by
	// the cache write on fresh results.
	TTL time.Duration

	// Source records which path produced the payload.
	Source HitSource
}
