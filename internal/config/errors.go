package config

import "errors"

// Sentinel kinds returned by Load and Validate.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
	// ErrUnknownPolicy is wrapped together with ErrInvalidConfig.
	ErrUnknownPolicy = errors.New("unknown history_policy")
)
