package vo

import "errors"

// Failure taxonomy of the orchestration protocol. Each is surfaced to the
// caller as a typed result; none are retried internally.
var ErrRateLimited = errors.New("rate limit exceeded")
var ErrLockUnavailable = errors.New("inference already in flight, retry later")
var ErrInferTimeout = errors.New("inference timed out")
var ErrUnsupportedKind = errors.New("unsupported inference kind")
