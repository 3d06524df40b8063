package dataset

import "errors"

// Sentinel kinds for dataset errors.
var (
	ErrUnknownFormat = errors.New("unknown dataset format")
	ErrStoreClosed   = errors.New("dataset store closed")
)
