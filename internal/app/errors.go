package service

import (
	"errors"
	"fmt"

	"github.com/okian/stopodds/internal/adapters/mq/worker"
)

// Sentinel kinds for job outcomes. The skip kinds wrap worker.ErrSkipped so
// the job worker records them as skipped rather than failed.
var (
	ErrInsufficientSample = fmt.Errorf("corpus below the activation gate: %w", worker.ErrSkipped)
	ErrJobInProgress      = fmt.Errorf("another training or prune job holds the lease: %w", worker.ErrSkipped)
	ErrNotStarted         = errors.New("service not started")
	ErrUnknownJob         = errors.New("unknown job kind")
)
