package app

import "errors"

// Sentinel kinds for application errors.
var (
	ErrInvalidRequest      = errors.New("invalid prediction request")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNotStarted          = errors.New("service not started")
	ErrNoTrainingRows      = errors.New("no training rows produced")
)
