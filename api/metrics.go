package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "notes-api"

// noteRequestMetrics collects timings for the note read path and reports
// them once per request as a structured log entry and an otel span.
type noteRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	cacheHit       bool
	errorStage     string
}

func newNoteRequestMetrics(ctx context.Context, logger *log.Logger) (*noteRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, "GET /notes/:note_id")
	return &noteRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *noteRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *noteRequestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *noteRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *noteRequestMetrics) SetCacheHit(hit bool) {
	m.cacheHit = hit
}

func (m *noteRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the span and emits one log entry for the request.
func (m *noteRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Bool("cache.hit", m.cacheHit),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("error.stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":     "/notes/:note_id",
		"status":    status,
		"total_ms":  durationToMillis(time.Since(m.start)),
		"cache_hit": m.cacheHit,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}

	entry := m.logger.WithFields(fields)
	switch {
	case status >= 500:
		entry.Error("note read")
	case status >= 400:
		entry.Warn("note read")
	default:
		entry.Info("note read")
	}
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
