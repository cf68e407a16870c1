package store

import "errors"

var (
	// ErrNotFound indicates the requested memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateConflict indicates a lifecycle transition the state machine
	// forbids, e.g. approving a record that is not pending approval.
	ErrStateConflict = errors.New("state conflict")
)
