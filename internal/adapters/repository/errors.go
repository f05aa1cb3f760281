package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrInvalidLimit   = errors.New("invalid list limit")
	ErrKindMismatch   = errors.New("run kind does not match pointer kind")
	ErrSuppressedCell = errors.New("suppressed cell cannot be stored")
	ErrClosed         = errors.New("store is closed")
)
