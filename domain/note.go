package domain

import (
	"fmt"
	"time"
)

// Note is the current state of a note aggregate, derived by folding its
// events. It is never persisted directly.
type Note struct {
	ID        string    `json:"note_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Deleted   bool      `json:"deleted,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Replay folds an ordered event sequence into the aggregate's current state.
// The fold is pure: replaying the same sequence always yields the same state.
// Events at or below the already-applied version are skipped, so duplicate
// deliveries are harmless. The first event must be NoteCreated; anything else
// is a data-integrity error, never an implicit empty state.
func Replay(events []Event) (Note, error) {
	if len(events) == 0 {
		return Note{}, ErrNoteNotFound
	}
	first := events[0]
	if first.Type != NoteCreated {
		return Note{}, fmt.Errorf("%w: aggregate %s starts with %s", ErrCorruptLog, first.AggregateID, first.Type)
	}
	d, err := first.CreatedData()
	if err != nil {
		return Note{}, err
	}
	n := Note{
		ID:        first.AggregateID,
		UserID:    first.UserID,
		Title:     d.Title,
		Content:   d.Content,
		Version:   first.Version,
		CreatedAt: first.Timestamp,
		UpdatedAt: first.Timestamp,
	}
	for _, ev := range events[1:] {
		if ev.Version <= n.Version {
			continue
		}
		switch ev.Type {
		case NoteCreated:
			return Note{}, fmt.Errorf("%w: aggregate %s created twice", ErrCorruptLog, ev.AggregateID)
		case NoteUpdated:
			u, err := ev.UpdatedData()
			if err != nil {
				return Note{}, err
			}
			n.Content = u.Content
		case NoteDeleted:
			n.Deleted = true
		default:
			return Note{}, fmt.Errorf("%w: unknown event type %q", ErrCorruptLog, ev.Type)
		}
		n.Version = ev.Version
		n.UpdatedAt = ev.Timestamp
	}
	return n, nil
}
