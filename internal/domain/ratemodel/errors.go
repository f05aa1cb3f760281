package ratemodel

import "errors"

// Sentinel kinds for fit failures. All of them abort the training job.
var (
	ErrInsufficientRows = errors.New("not enough rows for the number of parameters")
	ErrNoConvergence    = errors.New("rate model did not converge")
	ErrSingular         = errors.New("information matrix is singular")
)
