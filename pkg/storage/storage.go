// Package storage defines the durable record store the pipeline tracks
// translation lifecycles in, plus the errors shared by its backends.
package storage

import (
	"context"
	"time"
)

// Status is the lifecycle state of a translation request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusRecord is the durable record for one translation request, keyed by
// the request id. The submission boundary creates it in pending; the worker
// is the sole mutator afterwards.
type StatusRecord struct {
	ID             string
	Status         Status
	Text           string
	TranslatedText string
	ErrorMessage   string
	SubmitterID    string
	SourceLang     string
	TargetLang     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stats summarizes the record population.
type Stats struct {
	Total     int64
	Completed int64
	Failed    int64
}

// SuccessRate is the percentage of completed records, 0 when empty.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// StatusStore is the narrow interface the pipeline uses for durable status
// records. Implementations must tolerate concurrent access from multiple
// workers; UpdateStatus must be an atomic compare-and-set on the status
// column so that duplicate redeliveries cannot double-apply a transition.
type StatusStore interface {
	// Create persists rec. It returns ErrCollision if rec.ID already exists.
	Create(ctx context.Context, rec *StatusRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*StatusRecord, error)

	// UpdateStatus transitions id from the expected current status to the
	// next one, recording output or error message alongside. It returns
	// ErrNotFound for unknown ids and ErrStaleTransition when the stored
	// status no longer matches from.
	UpdateStatus(ctx context.Context, id string, from, to Status, translatedText, errorMessage string) error

	// ListBySubmitter returns the submitter's records, newest first.
	ListBySubmitter(ctx context.Context, submitterID string, limit, offset int) ([]*StatusRecord, error)

	// Stats returns aggregate counts across all records.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any held resources.
	Close()
}
