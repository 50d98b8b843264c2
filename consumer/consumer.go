// Package consumer drains the events queue into the event log. One message
// is processed at a time; a message is acknowledged only after the store
// confirms the write, so delivery is at-least-once end to end.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"notes-service/domain"
	"notes-service/storage"
)

// EventLog is the slice of the store the consumer appends to.
type EventLog interface {
	AppendEvent(ctx context.Context, ev domain.Event) error
}

// Channel is the message channel contract: one message at a time, manual
// acknowledgment, dead-letter side path.
type Channel interface {
	Dequeue(ctx context.Context) (*storage.Message, error)
	Ack(ctx context.Context, msg *storage.Message) error
	DeadLetter(ctx context.Context, msg *storage.Message) error
}

// Refresher updates derived read-side state after a durable append.
type Refresher interface {
	Refresh(ctx context.Context, aggregateID string)
}

// Consumer persists queued events to the event log.
type Consumer struct {
	events        EventLog
	channel       Channel
	cache         Refresher
	logger        *log.Logger
	maxDeliveries int64
	idleDelay     time.Duration
}

// New creates a Consumer. cache may be nil. maxDeliveries bounds redelivery
// of a message that keeps failing on store errors before it is routed to the
// dead-letter queue.
func New(events EventLog, channel Channel, cache Refresher, logger *log.Logger, maxDeliveries int64, idleDelay time.Duration) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	if idleDelay <= 0 {
		idleDelay = time.Second
	}
	return &Consumer{
		events:        events,
		channel:       channel,
		cache:         cache,
		logger:        logger,
		maxDeliveries: maxDeliveries,
		idleDelay:     idleDelay,
	}
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := c.channel.Dequeue(ctx)
		if err != nil {
			c.logger.WithError(err).Error("dequeue failed")
			c.sleep(ctx)
			continue
		}
		if msg == nil {
			c.sleep(ctx)
			continue
		}
		c.Process(ctx, msg)
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	timer := time.NewTimer(c.idleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Process handles a single delivery. Outcomes:
//   - persisted (or already persisted on a redelivery): acknowledge;
//   - malformed payload or version conflict: dead-letter, so one poison
//     message never stalls events for unrelated aggregates;
//   - store unavailable: leave unacknowledged for redelivery, dead-letter
//     once the delivery count exceeds the bound.
func (c *Consumer) Process(ctx context.Context, msg *storage.Message) {
	logger := c.logger.WithField("message", msg.ID)

	var ev domain.Event
	if err := json.Unmarshal([]byte(msg.Text), &ev); err != nil {
		logger.WithError(err).Error("malformed event payload, dead-lettering")
		c.deadLetter(ctx, msg)
		return
	}
	if err := ev.Validate(); err != nil {
		logger.WithError(err).WithField("note", ev.AggregateID).Error("invalid event, dead-lettering")
		c.deadLetter(ctx, msg)
		return
	}

	logger = logger.WithFields(log.Fields{
		"note":    ev.AggregateID,
		"type":    ev.Type,
		"version": ev.Version,
	})

	err := c.events.AppendEvent(ctx, ev)
	switch {
	case err == nil:
		logger.Info("event stored")
	case errors.Is(err, domain.ErrDuplicateEvent):
		logger.Info("event already stored, acknowledging redelivery")
	case errors.Is(err, domain.ErrVersionConflict):
		logger.WithError(err).Error("conflicting write for version slot, dead-lettering")
		c.deadLetter(ctx, msg)
		return
	default:
		if msg.Deliveries >= c.maxDeliveries {
			logger.WithError(err).WithField("deliveries", msg.Deliveries).Error("store unavailable and delivery bound reached, dead-lettering")
			c.deadLetter(ctx, msg)
			return
		}
		logger.WithError(err).WithField("deliveries", msg.Deliveries).Warn("store unavailable, leaving message for redelivery")
		c.sleep(ctx)
		return
	}

	if c.cache != nil {
		c.cache.Refresh(ctx, ev.AggregateID)
	}
	if err := c.channel.Ack(ctx, msg); err != nil {
		// The event is durable; the redelivery will be collapsed by the
		// duplicate event id on the next pass.
		logger.WithError(err).Warn("ack failed after durable write")
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg *storage.Message) {
	if err := c.channel.DeadLetter(ctx, msg); err != nil {
		c.logger.WithError(err).WithField("message", msg.ID).Error("dead-letter failed, message will be redelivered")
	}
}
