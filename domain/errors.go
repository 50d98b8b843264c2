package domain

import "errors"

var (
	// ErrNoteNotFound indicates that no events exist for the aggregate.
	ErrNoteNotFound = errors.New("note not found")

	// ErrNoteDeleted indicates the aggregate carries a NoteDeleted event.
	// The note remains queryable for history but not for content reads.
	ErrNoteDeleted = errors.New("note deleted")

	// ErrForbidden indicates the caller does not own the note.
	ErrForbidden = errors.New("caller does not own note")

	// ErrUnavailable indicates a transient infrastructure failure at command
	// time. Commands failing with it are safe to retry.
	ErrUnavailable = errors.New("service unavailable")

	// ErrCorruptLog indicates an event that cannot be interpreted: unknown
	// event type, malformed payload, or an aggregate whose first event is
	// not NoteCreated.
	ErrCorruptLog = errors.New("corrupt event log")

	// ErrDuplicateEvent indicates that the store already holds an event with
	// the same event id. Redeliveries surface it so the consumer can simply
	// acknowledge.
	ErrDuplicateEvent = errors.New("event already persisted")

	// ErrVersionConflict indicates that the store rejected an append because
	// the (aggregate, version) slot is already taken by a concurrent write.
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation indicates malformed command input.
	ErrValidation = errors.New("invalid input")
)
