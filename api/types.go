package api

import (
	"context"

	"notes-service/domain"
)

// EventLog abstracts the event store for the command existence checks and
// the query side. No caller of it ever mutates the log.
type EventLog interface {
	LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error)
	ListAggregateIDs(ctx context.Context, userID string) ([]string, error)
}

// Publisher sends events to the durable message channel. Publish failures
// surface as domain.ErrUnavailable and are safe for the client to retry.
type Publisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper short-circuits repeated commands carrying the same idempotency
// key. Reserve returns the note id associated with the key and whether this
// call recorded it; Release frees a reservation whose publish failed.
type Deduper interface {
	Reserve(ctx context.Context, userID, key, noteID string) (string, bool, error)
	Release(ctx context.Context, userID, key string) error
}

// ProjectionCache serves recently folded notes without replaying the log.
type ProjectionCache interface {
	Get(ctx context.Context, noteID string) (*domain.Note, bool)
}
