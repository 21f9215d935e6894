package store

import "errors"

var (
	// ErrEmptyID indicates a record was appended without an identifier
	ErrEmptyID = errors.New("empty_id")

	// ErrDuplicateID indicates a record with the same identifier is already stored
	ErrDuplicateID = errors.New("duplicate_id")

	// ErrCorrupt indicates the persisted history could not be decoded
	ErrCorrupt = errors.New("corrupt_history")
)
