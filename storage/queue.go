package storage

import (
	"context"
	"fmt"

	"notes-service/domain"
)

// Message is a single delivery from the events queue. Deliveries counts how
// many times the message has been handed out; it grows by one every time the
// visibility timeout expires without an acknowledgment.
type Message struct {
	ID         string
	PopReceipt string
	Text       string
	Deliveries int64
}

// Dequeue retrieves at most one message from the events queue. It returns
// nil without error when the queue is empty. The message stays invisible
// until either Ack or the visibility timeout; an unacknowledged message is
// redelivered.
func (s *Storage) Dequeue(ctx context.Context) (*Message, error) {
	resp, err := s.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue: %v", domain.ErrUnavailable, err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	raw := resp.Messages[0]
	msg := &Message{}
	if raw.MessageID != nil {
		msg.ID = *raw.MessageID
	}
	if raw.PopReceipt != nil {
		msg.PopReceipt = *raw.PopReceipt
	}
	if raw.MessageText != nil {
		msg.Text = *raw.MessageText
	}
	if raw.DequeueCount != nil {
		msg.Deliveries = *raw.DequeueCount
	}
	return msg, nil
}

// Ack removes an acknowledged message from the events queue. It must only be
// called after the event is durably persisted.
func (s *Storage) Ack(ctx context.Context, msg *Message) error {
	if _, err := s.queue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return fmt.Errorf("%w: ack: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// DeadLetter moves a message to the poison queue for manual inspection and
// removes it from the events queue so it cannot block later messages.
func (s *Storage) DeadLetter(ctx context.Context, msg *Message) error {
	if _, err := s.poison.EnqueueMessage(ctx, msg.Text, nil); err != nil {
		return fmt.Errorf("%w: dead-letter enqueue: %v", domain.ErrUnavailable, err)
	}
	return s.Ack(ctx, msg)
}
