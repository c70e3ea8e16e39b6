package storage

import "errors"

var (
	// ErrCollision if a record already exists for the id.
	ErrCollision = errors.New("record already exists")

	// ErrNotFound if no record exists for the id.
	ErrNotFound = errors.New("record not found")

	// ErrStaleTransition if the stored status did not match the expected
	// one during a compare-and-set update. Callers treat it as "someone
	// else already moved this record", typically a duplicate redelivery.
	ErrStaleTransition = errors.New("stale status transition")
)
