package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrStaleState is returned by conditional updates whose row exists but
	// is no longer in the state the caller expected.
	ErrStaleState = errors.New("record is not in the expected state")
)
