package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	NoteCreated = "NoteCreated"
	NoteUpdated = "NoteUpdated"
	NoteDeleted = "NoteDeleted"
)

// Event is an immutable fact about a note aggregate. Events for one
// aggregate are strictly ordered by Version, assigned at publish time from
// the last known event count.
type Event struct {
	ID          string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"event_type"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// CreatedData is the payload of a NoteCreated event.
type CreatedData struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdatedData is the payload of a NoteUpdated event.
type UpdatedData struct {
	Content string `json:"content"`
}

// Validate checks that a received event can be persisted: required identity
// fields present, a known event type, and a payload that decodes for that
// type. Failures wrap ErrCorruptLog.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrCorruptLog)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("%w: missing aggregate id", ErrCorruptLog)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrCorruptLog)
	}
	if e.Version < 1 {
		return fmt.Errorf("%w: version %d out of range", ErrCorruptLog, e.Version)
	}
	switch e.Type {
	case NoteCreated:
		if _, err := e.CreatedData(); err != nil {
			return err
		}
	case NoteUpdated:
		if _, err := e.UpdatedData(); err != nil {
			return err
		}
	case NoteDeleted:
		// carries no payload
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrCorruptLog, e.Type)
	}
	return nil
}

// CreatedData decodes the event payload as a NoteCreated payload.
func (e Event) CreatedData() (CreatedData, error) {
	var d CreatedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return CreatedData{}, fmt.Errorf("%w: %s payload: %v", ErrCorruptLog, NoteCreated, err)
	}
	return d, nil
}

// UpdatedData decodes the event payload as a NoteUpdated payload.
func (e Event) UpdatedData() (UpdatedData, error) {
	var d UpdatedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return UpdatedData{}, fmt.Errorf("%w: %s payload: %v", ErrCorruptLog, NoteUpdated, err)
	}
	return d, nil
}

// NewCreated builds the first event of a fresh note aggregate.
func NewCreated(eventID, noteID, userID, title, content string, ts time.Time) Event {
	data, _ := json.Marshal(CreatedData{Title: title, Content: content})
	return Event{
		ID:          eventID,
		AggregateID: noteID,
		UserID:      userID,
		Type:        NoteCreated,
		Version:     1,
		Timestamp:   ts,
		Data:        data,
	}
}

// NewUpdated builds a content update event at the given version.
func NewUpdated(eventID, noteID, userID, content string, version int64, ts time.Time) Event {
	data, _ := json.Marshal(UpdatedData{Content: content})
	return Event{
		ID:          eventID,
		AggregateID: noteID,
		UserID:      userID,
		Type:        NoteUpdated,
		Version:     version,
		Timestamp:   ts,
		Data:        data,
	}
}

// NewDeleted builds a deletion event at the given version.
func NewDeleted(eventID, noteID, userID string, version int64, ts time.Time) Event {
	return Event{
		ID:          eventID,
		AggregateID: noteID,
		UserID:      userID,
		Type:        NoteDeleted,
		Version:     version,
		Timestamp:   ts,
		Data:        json.RawMessage(`{}`),
	}
}
