package health

import "errors"

var (
	// ErrCheckTimeout is the error of a check that missed the deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned by Aggregator.Check for an unknown name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrCheckPanicked is the error of a check that panicked.
	ErrCheckPanicked = errors.New("health: check panicked")
)
