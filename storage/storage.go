package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"notes-service/domain"
)

const (
	eventIDIndex = "uniq_event_id"
	versionIndex = "uniq_aggregate_version"
	userIndex    = "idx_user_aggregates"
	mongoTimeout = 10 * time.Second
)

// Storage provides access to the event log store and the message channel.
// The Mongo collection is the single source of truth; the queues are the
// only mutation funnel into it.
type Storage struct {
	client *mongo.Client
	events *mongo.Collection
	queue  *azqueue.QueueClient
	poison *azqueue.QueueClient
}

// New connects the event log collection and the event/poison queues.
func New(mongoURI, database, collection, queueConnStr, eventsQueue, poisonQueue string) (*Storage, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(mongoURI).
		SetServerSelectionTimeout(mongoTimeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	events := client.Database(database).Collection(collection)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	queue, err := azqueue.NewQueueClientFromConnectionString(queueConnStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, fmt.Errorf("events queue client: %w", err)
	}
	poison, err := azqueue.NewQueueClientFromConnectionString(queueConnStr, poisonQueue, &queueClientOptions)
	if err != nil {
		return nil, fmt.Errorf("poison queue client: %w", err)
	}
	return &Storage{client: client, events: events, queue: queue, poison: poison}, nil
}

// Close releases the underlying Mongo connection.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes the append path relies on:
// one event id per log entry, one event per (aggregate, version) slot, and
// the secondary index used to enumerate a user's aggregates.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(eventIDIndex),
		},
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(versionIndex),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "aggregate_id", Value: 1}},
			Options: options.Index().SetName(userIndex),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// EnsureQueues creates the event and poison queues if they do not exist.
func (s *Storage) EnsureQueues(ctx context.Context) error {
	for _, q := range []*azqueue.QueueClient{s.queue, s.poison} {
		if _, err := q.Create(ctx, nil); err != nil && !queueAlreadyExists(err) {
			return fmt.Errorf("create queue: %w", err)
		}
	}
	return nil
}

func queueAlreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists"
}

type eventDocument struct {
	EventID     string    `bson:"event_id"`
	AggregateID string    `bson:"aggregate_id"`
	UserID      string    `bson:"user_id"`
	EventType   string    `bson:"event_type"`
	Version     int64     `bson:"version"`
	Timestamp   time.Time `bson:"timestamp"`
	Data        bson.M    `bson:"data"`
}

func toDocument(ev domain.Event) (eventDocument, error) {
	data := bson.M{}
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return eventDocument{}, fmt.Errorf("%w: event data: %v", domain.ErrCorruptLog, err)
		}
	}
	return eventDocument{
		EventID:     ev.ID,
		AggregateID: ev.AggregateID,
		UserID:      ev.UserID,
		EventType:   ev.Type,
		Version:     ev.Version,
		Timestamp:   ev.Timestamp.UTC(),
		Data:        data,
	}, nil
}

func fromDocument(doc eventDocument) (domain.Event, error) {
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: event data: %v", domain.ErrCorruptLog, err)
	}
	return domain.Event{
		ID:          doc.EventID,
		AggregateID: doc.AggregateID,
		UserID:      doc.UserID,
		Type:        doc.EventType,
		Version:     doc.Version,
		Timestamp:   doc.Timestamp.UTC(),
		Data:        data,
	}, nil
}

// AppendEvent durably inserts an event into the log. A replayed delivery of
// an already-persisted event maps to domain.ErrDuplicateEvent; a concurrent
// write racing for the same (aggregate, version) slot maps to
// domain.ErrVersionConflict. Any other failure is reported as transient.
func (s *Storage) AppendEvent(ctx context.Context, ev domain.Event) error {
	doc, err := toDocument(ev)
	if err != nil {
		return err
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), versionIndex) {
				return fmt.Errorf("%w: aggregate %s version %d: %v", domain.ErrVersionConflict, ev.AggregateID, ev.Version, err)
			}
			return fmt.Errorf("%w: event %s: %v", domain.ErrDuplicateEvent, ev.ID, err)
		}
		return fmt.Errorf("%w: append event: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// LoadEvents returns all events for one aggregate ordered by version.
func (s *Storage) LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	cur, err := s.events.Find(ctx,
		bson.D{{Key: "aggregate_id", Value: aggregateID}},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}, {Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: load events: %v", domain.ErrUnavailable, err)
	}
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode events: %v", domain.ErrUnavailable, err)
	}
	events := make([]domain.Event, 0, len(docs))
	for _, doc := range docs {
		ev, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListAggregateIDs enumerates the distinct aggregates owned by a user.
func (s *Storage) ListAggregateIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.events.Distinct(ctx, "aggregate_id", bson.D{{Key: "user_id", Value: userID}}).Decode(&ids)
	if err != nil {
		return nil, fmt.Errorf("%w: list aggregates: %v", domain.ErrUnavailable, err)
	}
	return ids, nil
}

// PublishEvent sends a serialized event to the durable events queue. The
// queue retains the message until the consumer acknowledges it.
func (s *Storage) PublishEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.queue.EnqueueMessage(ctx, string(payload), nil); err != nil {
		return fmt.Errorf("%w: publish event: %v", domain.ErrUnavailable, err)
	}
	return nil
}
