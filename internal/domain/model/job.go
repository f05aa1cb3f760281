// Package model contains domain models passed between layers.
package model

import "time"

// JobKind identifies a batch task.
type JobKind string

// Batch task kinds.
const (
	JobTrain JobKind = "train"
	JobPrune JobKind = "prune"
)

// Job represents a batch task request flowing through the job queue.
type Job struct {
	ID          string    // unique id for tracing the request in logs
	Kind        JobKind   // what to run
	Reason      string    // who asked, e.g. "schedule", "api", "cli"
	RequestedAt time.Time // enqueue time
}
