package core

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// mongoContentDoc is the on-disk shape of a cached content blob.
type mongoContentDoc struct {
	Hash  string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoStore is a LocalStore backed by a MongoDB collection, selected via
// mongodb.* configuration. Writes are idempotent: re-storing the same hash
// with identical bytes is a safe no-op upsert.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wires a MongoStore against the given database, using the
// "content" collection for cached payloads.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("content")}
}

// EnsureIndexes creates the indexes the content collection relies on. The
// primary key is already the hash, so there is nothing beyond the default
// _id index today; kept as a hook for future secondary indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return nil
}

// Get implements LocalStore.
func (s *MongoStore) Get(hash string) ([]byte, bool) {
	ctx := context.Background()
	var doc mongoContentDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": hash}).Decode(&doc)
	if err != nil {
		return nil, false
	}
	return doc.Value, true
}

// Set implements LocalStore. An upsert keyed by hash makes repeat writes
// of the same content idempotent: the store is write-once per key.
func (s *MongoStore) Set(hash string, value []byte) error {
	ctx := context.Background()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": hash},
		bson.M{"$setOnInsert": mongoContentDoc{Hash: hash, Value: value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo store set %s: %w", hash, ErrTransientIO)
	}
	return nil
}

// loggedStore wraps a LocalStore and logs every failed write before
// returning the error to the caller. GetHashContent only logs that error,
// so a failed cache write does not fail a resolve; addBytes returns it.
type loggedStore struct {
	LocalStore
	logger *zap.SugaredLogger
}

// NewLoggedStore wraps next so Set failures are logged instead of dropped
// silently.
func NewLoggedStore(next LocalStore, logger *zap.Logger) LocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &loggedStore{LocalStore: next, logger: logger.Sugar()}
}

func (s *loggedStore) Set(hash string, value []byte) error {
	if err := s.LocalStore.Set(hash, value); err != nil {
		s.logger.Warnf("write-through cache failed for %s: %v", hash, err)
		return err
	}
	return nil
}
