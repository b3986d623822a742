package domain

import "errors"

// Sentinel errors shared across repositories, services and handlers.
// Callers classify with errors.Is; messages are wrapped with %w at the
// point where context is known.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNotification = errors.New("notification delivery failed")
)
