package domain

import "time"

// JobStatus is the lifecycle state of an async inference job.
// Transitions are monotonic: PENDING -> PROCESSING -> {COMPLETED, FAILED}.
// EXPIRED is never written; readers infer it when a previously-seen job key
// has vanished, and it surfaces to callers as plain not-found.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next preserves the
// monotonic state machine.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is the persisted state of one async inference request. The store owns
// the authoritative copy; this struct is a point-in-time read.
type Job struct {
	ID               string
	Kind             Kind
	Resource         string
	Params           map[string]string
	Status           JobStatus
	CreatedAt        time.Time
	CompletedAt      *time.Time
	ProgressPercent  int
	Result           []byte
	Error            string
	EstimatedSeconds int
}
