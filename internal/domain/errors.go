package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStepBlocked       = errors.New("step blocked by validation errors")
	ErrOutOfRange        = errors.New("step index out of range")
	ErrSubmitInFlight    = errors.New("submission already in flight")
	ErrSessionFinished   = errors.New("session already submitted")
	ErrCapacityExceeded  = errors.New("attachment capacity exceeded")
	ErrStaleResult       = errors.New("stale generation result")
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrProviderFailure   = errors.New("provider failure")
	ErrGenerationTimeout = errors.New("generation timed out")
)
