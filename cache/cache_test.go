package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"notes-service/domain"
)

type fakeEvents struct {
	events []domain.Event
	err    error
}

func (f *fakeEvents) LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	return f.events, f.err
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	return redis.NewClient(&redis.Options{Addr: m.Addr()})
}

func TestRefreshThenGet(t *testing.T) {
	rc := testRedis(t)
	created := domain.NewCreated("ev-1", "note-1", "user123", "title", "content", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	updater := NewUpdater(&fakeEvents{events: []domain.Event{created}}, rc, time.Hour)
	reader := NewReader(rc)
	ctx := context.Background()

	updater.Refresh(ctx, "note-1")

	note, ok := reader.Get(ctx, "note-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if note.ID != "note-1" || note.Title != "title" || note.Content != "content" {
		t.Fatalf("unexpected cached note: %+v", note)
	}
	if note.UserID != "user123" {
		t.Fatalf("owner missing from cached note: %+v", note)
	}
}

func TestRefreshCachesDeletedNotes(t *testing.T) {
	rc := testRedis(t)
	events := []domain.Event{
		domain.NewCreated("ev-1", "note-1", "user123", "title", "content", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		domain.NewDeleted("ev-2", "note-1", "user123", 2, time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)),
	}
	updater := NewUpdater(&fakeEvents{events: events}, rc, time.Hour)
	reader := NewReader(rc)
	ctx := context.Background()

	updater.Refresh(ctx, "note-1")

	note, ok := reader.Get(ctx, "note-1")
	if !ok {
		t.Fatal("expected cache hit for deleted note")
	}
	if !note.Deleted {
		t.Fatalf("cached note not marked deleted: %+v", note)
	}
}

func TestRefreshSkipsOnLoadFailure(t *testing.T) {
	rc := testRedis(t)
	updater := NewUpdater(&fakeEvents{err: domain.ErrUnavailable}, rc, time.Hour)
	reader := NewReader(rc)
	ctx := context.Background()

	updater.Refresh(ctx, "note-1")

	if _, ok := reader.Get(ctx, "note-1"); ok {
		t.Fatal("unexpected cache entry after load failure")
	}
}

func TestGetMissOnAbsentKey(t *testing.T) {
	reader := NewReader(testRedis(t))
	if _, ok := reader.Get(context.Background(), "nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestGetMissOnSchemaMismatch(t *testing.T) {
	rc := testRedis(t)
	ctx := context.Background()
	if err := rc.Set(ctx, Key("note-1"), `{"version":99,"note":{}}`, 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reader := NewReader(rc)
	if _, ok := reader.Get(ctx, "note-1"); ok {
		t.Fatal("expected miss on stale schema")
	}
}
