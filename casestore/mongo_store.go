package casestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoDoc embeds the audit trail in the record document so status and history
// change in one single-document (atomic) update.
type mongoDoc struct {
	Record `bson:",inline"`
	Events []Event `bson:"events"`
}

// MongoStore is a MongoDB-backed Repository.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	owns   bool
	closed atomic.Bool
	now    func() time.Time
}

var _ Repository = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and ensures the partial unique index on pending identities
func NewMongoStore(ctx context.Context, config StoreConfig) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(config.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	store, err := NewMongoStoreWithClient(ctx, client, config.Mongo.Database, config.Mongo.Collection)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	store.owns = true
	return store, nil
}

// NewMongoStoreWithClient uses an existing client; Close will not disconnect it
func NewMongoStoreWithClient(ctx context.Context, client *mongo.Client, database, collection string) (*MongoStore, error) {
	if database == "" {
		database = "casegate"
	}
	if collection == "" {
		collection = "task_records"
	}
	coll := client.Database(database).Collection(collection)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "identity_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_pending_identity").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: string(StatusPending)}}),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoStore{client: client, coll: coll, now: time.Now}, nil
}

// Close disconnects the client when the store created it
func (s *MongoStore) Close() error {
	if s.closed.Swap(true) || !s.owns {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		if errors.Is(err, mongo.ErrClientDisconnected) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

// recordProjection 查询记录时排除审计数组
var recordProjection = bson.D{{Key: "events", Value: 0}}

// FindPendingByIdentity returns the pending record for key
func (s *MongoStore) FindPendingByIdentity(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx,
		bson.D{{Key: "identity_key", Value: key}, {Key: "status", Value: string(StatusPending)}},
		options.FindOne().SetProjection(recordProjection),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("find pending", err)
	}
	return &rec, nil
}

// UpdateStatus moves a pending record to a terminal status in one document update
func (s *MongoStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	if err := checkUpdate(id, status); err != nil {
		return err
	}

	now := s.now()
	ev := newEvent(ctx, id, StatusPending, status, note, now)
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(StatusPending)}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(status)},
				{Key: "outcome_note", Value: note},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$push", Value: bson.D{{Key: "events", Value: ev}}},
		},
	)
	if err != nil {
		return persistenceError("update status", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return persistenceError("update status", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ListAll returns all records ordered by creation time
func (s *MongoStore) ListAll(ctx context.Context) ([]*Record, error) {
	cursor, err := s.coll.Find(ctx, bson.D{},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
			SetProjection(recordProjection),
	)
	if err != nil {
		return nil, persistenceError("list records", err)
	}
	var records []*Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, persistenceError("list records", err)
	}
	if records == nil {
		records = []*Record{}
	}
	return records, nil
}

// Get retrieves a record by ID
func (s *MongoStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}},
		options.FindOne().SetProjection(recordProjection),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get record", err)
	}
	return &rec, nil
}

// Create inserts a new record; the partial unique index rejects a second pending record
func (s *MongoStore) Create(ctx context.Context, rec *Record) error {
	prepared, err := prepareNew(rec, s.now())
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, mongoDoc{Record: *prepared, Events: []Event{}})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return persistenceError("create record", err)
	}
	rec.adopt(prepared)
	return nil
}

// Count returns the number of records
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, persistenceError("count records", err)
	}
	return n, nil
}

// History returns the audit trail of a record
func (s *MongoStore) History(ctx context.Context, id string) ([]*Event, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("read history", err)
	}
	result := make([]*Event, 0, len(doc.Events))
	for i := range doc.Events {
		result = append(result, &doc.Events[i])
	}
	return result, nil
}
