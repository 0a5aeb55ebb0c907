package domain

import "time"

// RequestRecord is one line of orchestration history: who asked for what,
// how it resolved and how long it took. Failure is empty on success; Source
// is empty on failure.
type RequestRecord struct {
	Subject     string
	Kind        Kind
	Fingerprint string
	CacheHit    bool
	Source      string
	Failure     string
	DurationMS  int64
	CreatedAt   time.Time
}
