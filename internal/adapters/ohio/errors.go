package ohio

import "errors"

// ErrMalformed reports a structurally invalid session file.
var ErrMalformed = errors.New("malformed session file")
