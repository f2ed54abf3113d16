package apperrors

import "errors"

// Scheduler errors
var (
	ErrSchedulerClosed   = errors.New("scheduler closed")
	ErrOperationPanicked = errors.New("operation panicked")
)

// Service errors
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrRouteUnavailable = errors.New("swap route unavailable")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUpstream         = errors.New("upstream error")
)
