package explain

import "errors"

// Sentinel kinds for explanation errors.
var (
	ErrUpstream         = errors.New("explanation backend failed")
	ErrEmptyExplanation = errors.New("empty explanation")
)
