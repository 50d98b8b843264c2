// Package cache keeps a redis copy of recently folded note projections so
// the query path can serve hot notes without replaying the event log. The
// consumer refreshes entries after each durable append; readers fall back to
// the store on any miss, so a cold or unreachable cache only costs latency.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"notes-service/domain"
)

const (
	schemaVersion = 1
	notePrefix    = "note"
)

// Key returns the redis key for a note projection.
func Key(noteID string) string {
	return notePrefix + ":" + noteID
}

type cachedNote struct {
	Version  int         `json:"version"`
	CachedAt time.Time   `json:"cachedAt"`
	Note     domain.Note `json:"note"`
}

// EventSource is the slice of the event log the updater needs.
type EventSource interface {
	LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error)
}

// Updater refreshes cached projections after events are persisted.
type Updater struct {
	events EventSource
	redis  *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewUpdater creates an Updater over the given event source and redis client.
func NewUpdater(events EventSource, rc *redis.Client, ttl time.Duration) *Updater {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Updater{events: events, redis: rc, ttl: ttl, now: time.Now}
}

// Refresh folds the aggregate and stores the result. Deleted notes are
// cached too, so reads can answer Gone without touching the store. Failures
// are logged and swallowed: the cache is an optimization, not a source of
// truth.
func (u *Updater) Refresh(ctx context.Context, aggregateID string) {
	events, err := u.events.LoadEvents(ctx, aggregateID)
	if err != nil {
		log.WithError(err).WithField("note", aggregateID).Warn("cache refresh: load events failed")
		return
	}
	note, err := domain.Replay(events)
	if err != nil {
		log.WithError(err).WithField("note", aggregateID).Warn("cache refresh: replay failed")
		return
	}
	payload, err := json.Marshal(cachedNote{Version: schemaVersion, CachedAt: u.now().UTC(), Note: note})
	if err != nil {
		log.WithError(err).WithField("note", aggregateID).Warn("cache refresh: encode failed")
		return
	}
	if err := u.redis.Set(ctx, Key(aggregateID), payload, u.ttl).Err(); err != nil {
		log.WithError(err).WithField("note", aggregateID).Warn("cache refresh: set failed")
	}
}

// Reader serves cached projections to the query path.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a Reader over the given redis client.
func NewReader(rc *redis.Client) *Reader {
	return &Reader{redis: rc}
}

// Get returns the cached projection for a note, reporting a miss for absent
// keys, stale schema versions, or any redis failure.
func (r *Reader) Get(ctx context.Context, noteID string) (*domain.Note, bool) {
	if r == nil || r.redis == nil {
		return nil, false
	}
	raw, err := r.redis.Get(ctx, Key(noteID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("note", noteID).Debug("cache read failed")
		}
		return nil, false
	}
	var entry cachedNote
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Version != schemaVersion {
		return nil, false
	}
	return &entry.Note, true
}
