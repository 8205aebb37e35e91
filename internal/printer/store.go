package printer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Record is one completed print job, the durable counterpart of
// spec.md 8's "resource's receive log" used to observe the
// globally-sorted entry order Scenario F describes.
type Record struct {
	ID                  string    `bson:"_id" json:"id"`
	ClientID            int       `bson:"client_id" json:"client_id"`
	RequestNumber       uint64    `bson:"request_number" json:"request_number"`
	LamportTimestamp    int64     `bson:"lamport_timestamp" json:"lamport_timestamp"`
	MessageContent      string    `bson:"message_content" json:"message_content"`
	ConfirmationMessage string    `bson:"confirmation_message" json:"confirmation_message"`
	ReceivedAt          time.Time `bson:"received_at" json:"received_at"`
}

// NewRecord stamps a Record with a fresh id and receive time.
func NewRecord(clientID int, requestNumber uint64, ts int64, message, confirmation string) Record {
	return Record{
		ID:                  uuid.NewString(),
		ClientID:            clientID,
		RequestNumber:       requestNumber,
		LamportTimestamp:    ts,
		MessageContent:      message,
		ConfirmationMessage: confirmation,
		ReceivedAt:          time.Now(),
	}
}

// Store persists the printer's receive log.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int64) ([]Record, error)
}

// MemoryStore is the fallback used when no Mongo endpoint is
// configured, so the printer still runs standalone for local testing.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.records))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	copy(out, m.records[int64(len(m.records))-n:])
	return out, nil
}

// MongoStore persists the receive log to a MongoDB collection, the way
// the teacher repository persists its seat documents
// (03-lock-distribuido/server/main.go).
type MongoStore struct {
	collection *mongo.Collection
}

// Connect dials uri and returns a MongoStore backed by
// database "printlock", collection "prints".
func Connect(ctx context.Context, uri string) (*MongoStore, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, errors.Wrap(err, "ping mongo")
	}
	collection := client.Database("printlock").Collection("prints")
	return &MongoStore{collection: collection}, client, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.collection.InsertOne(ctx, rec)
	return errors.Wrap(err, "insert print record")
}

func (s *MongoStore) List(ctx context.Context, limit int64) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find print records")
	}
	defer cursor.Close(ctx)

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, errors.Wrap(err, "decode print records")
	}
	return records, nil
}
