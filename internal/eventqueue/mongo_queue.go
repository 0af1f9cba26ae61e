package eventqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of MongoDB, for deployments that
// already run the document store there.
type MongoQueue struct {
	coll *mongo.Collection
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "duplex", collName to "queue_events".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "duplex"
	}
	if collName == "" {
		collName = "queue_events"
	}
	return &MongoQueue{
		coll: client.Database(dbName).Collection(collName),
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoQueueDoc struct {
	ID         string    `bson:"_id"`
	Payload    []byte    `bson:"payload"`
	EnqueuedAt time.Time `bson:"enqueued_at"`
	NotBefore  time.Time `bson:"not_before"`
	Attempts   int       `bson:"attempts"`
}

// Enqueue inserts a document for the given message.
func (q *MongoQueue) Enqueue(ctx context.Context, m Message) error {
	payload, err := EncodeEvent(m.Event)
	if err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	notBefore := m.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}

	doc := mongoQueueDoc{
		ID:         m.ID,
		Payload:    payload,
		EnqueuedAt: now,
		NotBefore:  notBefore,
		Attempts:   m.Attempts,
	}

	_, err = q.coll.InsertOne(ctx, doc)
	return err
}

// Dequeue blocks (via polling) until an eligible message is available or
// ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Message, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle
	// poll. Initialize stopped; reset only when needed.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UTC()}},
			&options.FindOneAndDeleteOptions{
				Sort: bson.D{{Key: "not_before", Value: 1}, {Key: "enqueued_at", Value: 1}},
			},
		).Decode(&doc)

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// Nothing eligible yet, wait a bit using the reusable timer.
				tmr.Reset(100 * time.Millisecond)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-tmr.C:
				}
				continue
			}
			return nil, err
		}

		ev, err := DecodeEvent(doc.Payload)
		if err != nil {
			return nil, err
		}

		return &Message{
			ID:         doc.ID,
			Event:      ev,
			EnqueuedAt: doc.EnqueuedAt,
			NotBefore:  doc.NotBefore,
			Attempts:   doc.Attempts,
		}, nil
	}
}

// Len returns an approximate number of queued messages.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		slog.Warn("MongoQueue: Len failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}
