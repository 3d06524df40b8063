package features

import "errors"

// Sentinel kinds for feature engineering errors.
var (
	ErrIrregularGrid = errors.New("grid rows are not 5 minutes apart")
	ErrEmptyInput    = errors.New("no grid rows")
	ErrUnknownMode   = errors.New("unknown feature mode")
)
