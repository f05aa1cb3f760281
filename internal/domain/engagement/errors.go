package engagement

import "errors"

// Sentinel kinds for training failures.
var (
	ErrInsufficientRows = errors.New("not enough rows to train the engagement model")
	ErrSingleClass      = errors.New("training rows contain a single outcome class")
)
