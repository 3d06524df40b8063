package align

import "errors"

// Sentinel kinds for alignment errors.
var (
	ErrNoGlucose    = errors.New("no glucose events")
	ErrInvalidEvent = errors.New("invalid event")
)
