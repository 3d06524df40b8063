package synth

import "errors"

// ErrInvalidConfig reports an unusable generation config.
var ErrInvalidConfig = errors.New("invalid synth config")
