package models

import "errors"

var (
	// ErrInvalidTransition is returned when a state change violates the alert graph.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlertNotAvailable is returned when a request targets an alert that is no longer free.
	ErrAlertNotAvailable = errors.New("alert not available")
	// ErrStoreUnavailable wraps any entity store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMissingTimestamp is returned when created_at is absent or unparsable.
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrNotFound         = errors.New("not found")
	// ErrNotParticipant is returned when the actor is neither owner nor buyer of an alert.
	ErrNotParticipant = errors.New("not a participant")
	ErrInvalidInput   = errors.New("invalid input")
)
