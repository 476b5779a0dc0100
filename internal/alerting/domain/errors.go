package alerting

import "errors"

var (
	// ErrNotFound indicates a missing threshold configuration.
	ErrNotFound = errors.New("alerting: not found")
	// ErrInvalidThreshold indicates a threshold that cannot be stored.
	ErrInvalidThreshold = errors.New("alerting: invalid threshold")
)
