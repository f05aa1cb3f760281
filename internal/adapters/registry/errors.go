package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrUnknownRun = errors.New("unknown model run")
	ErrInvalidRun = errors.New("invalid model run")
)
