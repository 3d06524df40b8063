package risk

import "errors"

// Sentinel kinds for classifier errors.
var (
	ErrFeatureContract = errors.New("feature contract mismatch")
	ErrInvalidArtifact = errors.New("invalid model artifact")
	ErrInvalidInput    = errors.New("invalid classifier input")
)
