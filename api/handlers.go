package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"notes-service/domain"
)

const (
	commandBodyMaxSize    = 64 * 1024 // 64 KiB
	defaultPublishTimeout = 5 * time.Second
	idempotencyKeyHeader  = "Idempotency-Key"
)

// Services bundles the collaborators the handlers depend on. Deduper and
// Cache are optional; a nil value disables the respective optimization.
type Services struct {
	Events         EventLog
	Publisher      Publisher
	Auth           Authenticator
	Deduper        Deduper
	Cache          ProjectionCache
	PublishTimeout time.Duration
	Logger         *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s Services) {
	if s.PublishTimeout <= 0 {
		s.PublishTimeout = defaultPublishTimeout
	}
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	e.POST("/notes", createNote(s))
	e.PUT("/notes/:note_id", updateNote(s))
	e.DELETE("/notes/:note_id", deleteNote(s))
	e.GET("/notes/:note_id", getNote(s))
	e.GET("/notes/:note_id/history", getNoteHistory(s))
	e.GET("/users/:user_id/notes", getUserNotes(s))
	e.GET("/health", health())
}

type createNoteRequest struct {
	// UserID is accepted for wire compatibility; the owner always comes
	// from the bearer token.
	UserID  string `json:"user_id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type updateNoteRequest struct {
	Content string `json:"content"`
}

type createNoteResponse struct {
	NoteID  string `json:"note_id"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type noteResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type listedNote struct {
	NoteID  string `json:"note_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type historyEntry struct {
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type historyResponse struct {
	NoteID  string         `json:"note_id"`
	History []historyEntry `json:"history"`
}

func health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, commandBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// reserveKey consults the deduper when the request carries an idempotency
// key. It returns the note id to answer with when the command was already
// accepted. Deduper failures are logged and treated as a fresh command;
// availability wins over duplicate suppression.
func reserveKey(ctx context.Context, s Services, c echo.Context, userID, noteID string) (reserved string, duplicate string, ok bool) {
	key := c.Request().Header.Get(idempotencyKeyHeader)
	if key == "" || s.Deduper == nil {
		return "", "", false
	}
	stored, added, err := s.Deduper.Reserve(ctx, userID, key, noteID)
	if err != nil {
		s.Logger.WithError(err).Warn("idempotency reservation failed, accepting command")
		return "", "", false
	}
	if !added {
		return "", stored, true
	}
	return key, "", false
}

func releaseKey(ctx context.Context, s Services, userID, key string) {
	if key == "" || s.Deduper == nil {
		return
	}
	if err := s.Deduper.Release(ctx, userID, key); err != nil {
		s.Logger.WithError(err).Warn("idempotency release failed")
	}
}

func publish(ctx context.Context, s Services, ev domain.Event) error {
	pubCtx, cancel := context.WithTimeout(ctx, s.PublishTimeout)
	defer cancel()
	return s.Publisher.PublishEvent(pubCtx, ev)
}

func createNote(s Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createNoteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		title := strings.TrimSpace(req.Title)
		content := req.Content
		if title == "" || content == "" {
			return c.String(http.StatusBadRequest, "title and content are required")
		}

		noteID := uuid.NewString()
		key, duplicate, seen := reserveKey(ctx, s, c, userID, noteID)
		if seen {
			return c.JSON(http.StatusOK, createNoteResponse{NoteID: duplicate, Message: "Note created."})
		}

		ev := domain.NewCreated(uuid.NewString(), noteID, userID, title, content, commandTime())
		if err := publish(ctx, s, ev); err != nil {
			releaseKey(ctx, s, userID, key)
			s.Logger.WithError(err).Error("publish NoteCreated failed")
			return c.String(http.StatusServiceUnavailable, "event channel unavailable")
		}
		return c.JSON(http.StatusOK, createNoteResponse{NoteID: noteID, Message: "Note created."})
	}
}

// ownerAndNextVersion resolves the owning user and the next version slot for
// an existing aggregate. The owner is always the first event's user id.
func ownerAndNextVersion(ctx context.Context, events EventLog, noteID string) (string, int64, error) {
	evs, err := events.LoadEvents(ctx, noteID)
	if err != nil {
		return "", 0, err
	}
	if len(evs) == 0 {
		return "", 0, domain.ErrNoteNotFound
	}
	return evs[0].UserID, evs[len(evs)-1].Version + 1, nil
}

func updateNote(s Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		callerID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("note_id")

		var req updateNoteRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Content == "" {
			return c.String(http.StatusBadRequest, "content is required")
		}

		owner, version, err := ownerAndNextVersion(ctx, s.Events, noteID)
		if err != nil {
			return commandError(c, s, err)
		}
		if owner != callerID {
			return c.String(http.StatusForbidden, "not the note owner")
		}

		key, _, seen := reserveKey(ctx, s, c, callerID, noteID)
		if seen {
			return c.JSON(http.StatusOK, messageResponse{Message: "Note update requested."})
		}

		ev := domain.NewUpdated(uuid.NewString(), noteID, owner, req.Content, version, commandTime())
		if err := publish(ctx, s, ev); err != nil {
			releaseKey(ctx, s, callerID, key)
			s.Logger.WithError(err).Error("publish NoteUpdated failed")
			return c.String(http.StatusServiceUnavailable, "event channel unavailable")
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Note update requested."})
	}
}

func deleteNote(s Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		callerID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("note_id")

		owner, version, err := ownerAndNextVersion(ctx, s.Events, noteID)
		if err != nil {
			return commandError(c, s, err)
		}
		if owner != callerID {
			return c.String(http.StatusForbidden, "not the note owner")
		}

		key, _, seen := reserveKey(ctx, s, c, callerID, noteID)
		if seen {
			return c.JSON(http.StatusOK, messageResponse{Message: "Note delete requested."})
		}

		ev := domain.NewDeleted(uuid.NewString(), noteID, owner, version, commandTime())
		if err := publish(ctx, s, ev); err != nil {
			releaseKey(ctx, s, callerID, key)
			s.Logger.WithError(err).Error("publish NoteDeleted failed")
			return c.String(http.StatusServiceUnavailable, "event channel unavailable")
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Note delete requested."})
	}
}

func getNote(s Services) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newNoteRequestMetrics(ctx, s.Logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		callerID, authErr := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		noteID := c.Param("note_id")

		var note domain.Note
		fetchStart := time.Now()
		if s.Cache != nil {
			if cached, ok := s.Cache.Get(ctx, noteID); ok {
				metrics.SetCacheHit(true)
				note = *cached
			}
		}
		if note.ID == "" {
			evs, loadErr := s.Events.LoadEvents(ctx, noteID)
			if loadErr != nil {
				metrics.SetErrorStage("storage")
				c.Logger().Error(loadErr)
				err = c.String(http.StatusServiceUnavailable, "event store unavailable")
				return err
			}
			if len(evs) == 0 {
				metrics.SetErrorStage("not_found")
				err = c.String(http.StatusNotFound, "note not found")
				return err
			}
			note, err = domain.Replay(evs)
			if err != nil {
				metrics.SetErrorStage("replay")
				s.Logger.WithError(err).WithField("note", noteID).Error("projection failed")
				err = c.String(http.StatusInternalServerError, "corrupt event log")
				return err
			}
		}
		metrics.ObserveFetch(time.Since(fetchStart))

		if note.Deleted {
			metrics.SetErrorStage("gone")
			err = c.String(http.StatusGone, "note was deleted")
			return err
		}
		if note.UserID != callerID {
			metrics.SetErrorStage("forbidden")
			err = c.String(http.StatusForbidden, "not the note owner")
			return err
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, noteResponse{Title: note.Title, Content: note.Content})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getUserNotes(s Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		callerID, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		userID := c.Param("user_id")
		if userID != callerID {
			return c.String(http.StatusForbidden, "cannot list another user's notes")
		}

		ids, err := s.Events.ListAggregateIDs(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, "event store unavailable")
		}

		notes := make([]domain.Note, 0, len(ids))
		for _, id := range ids {
			evs, err := s.Events.LoadEvents(ctx, id)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusServiceUnavailable, "event store unavailable")
			}
			if len(evs) == 0 {
				continue
			}
			note, err := domain.Replay(evs)
			if err != nil {
				// Corruption is fatal for the aggregate, not for the listing.
				s.Logger.WithError(err).WithField("note", id).Error("projection failed, skipping")
				continue
			}
			if note.Deleted {
				continue
			}
			notes = append(notes, note)
		}
		sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.Before(notes[j].CreatedAt) })

		out := make([]listedNote, 0, len(notes))
		for _, n := range notes {
			out = append(out, listedNote{NoteID: n.ID, Title: n.Title, Content: n.Content})
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getNoteHistory(s Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("note_id")

		evs, err := s.Events.LoadEvents(ctx, noteID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, "event store unavailable")
		}
		if len(evs) == 0 {
			return c.String(http.StatusNotFound, "note not found")
		}

		history := make([]historyEntry, 0, len(evs))
		for _, ev := range evs {
			history = append(history, historyEntry{EventType: ev.Type, Timestamp: ev.Timestamp, Data: ev.Data})
		}
		return c.JSON(http.StatusOK, historyResponse{NoteID: noteID, History: history})
	}
}

func commandError(c echo.Context, s Services, err error) error {
	switch {
	case errors.Is(err, domain.ErrNoteNotFound):
		return c.String(http.StatusNotFound, "note not found")
	case errors.Is(err, domain.ErrForbidden):
		return c.String(http.StatusForbidden, "not the note owner")
	case errors.Is(err, domain.ErrNoteDeleted):
		return c.String(http.StatusGone, "note was deleted")
	case errors.Is(err, domain.ErrValidation):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.Logger.WithError(err).Error("command failed on infrastructure")
		return c.String(http.StatusServiceUnavailable, "service unavailable")
	default:
		s.Logger.WithError(err).Error("command failed")
		return c.String(http.StatusInternalServerError, err.Error())
	}
}
