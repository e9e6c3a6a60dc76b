package core

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageQueue is the narrow pending-message contract the message worker
// drains. It exists so jobs can be exercised against an in-memory fake in
// tests without a live MongoDB connection.
type MessageQueue interface {
	FetchPendingMessages(ctx context.Context, limit int64) ([]PendingMessage, error)
	BulkWriteMessages(ctx context.Context, ops []mongo.WriteModel) error
}

// TxQueue is the narrow pending-tx contract the tx worker drains.
type TxQueue interface {
	FetchPendingTxs(ctx context.Context, limit int64) ([]PendingTx, error)
	BulkWriteTxs(ctx context.Context, ops []mongo.WriteModel) error
}

// PendingStore is the union Jobs depends on.
type PendingStore interface {
	MessageQueue
	TxQueue
}

// PendingQueues groups the two Mongo-backed collections the worker jobs
// drain: pending messages and pending chain transactions.
type PendingQueues struct {
	Messages *mongo.Collection
	Txs      *mongo.Collection
}

// NewPendingQueues wires both collections against db.
func NewPendingQueues(db *mongo.Database) *PendingQueues {
	return &PendingQueues{
		Messages: db.Collection("pending_messages"),
		Txs:      db.Collection("pending_txs"),
	}
}

// EnsureIndexes creates the time-ascending index both sweeps rely on for
// ordered iteration.
func (q *PendingQueues) EnsureIndexes(ctx context.Context) error {
	timeIdx := mongo.IndexModel{Keys: bson.D{{Key: "time", Value: 1}}}
	if _, err := q.Messages.Indexes().CreateOne(ctx, timeIdx); err != nil {
		return fmt.Errorf("pending messages index: %w", err)
	}
	if _, err := q.Txs.Indexes().CreateOne(ctx, timeIdx); err != nil {
		return fmt.Errorf("pending txs index: %w", err)
	}
	return nil
}

// FetchPendingMessages returns up to limit pending messages, ordered by
// time ascending, the shape the message sweep iterates over.
func (q *PendingQueues) FetchPendingMessages(ctx context.Context, limit int64) ([]PendingMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}}).SetLimit(limit)
	cur, err := q.Messages.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []PendingMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode pending messages: %w", err)
	}
	return out, nil
}

// FetchPendingTxs returns up to limit pending transactions, ordered by
// time ascending, the shape the tx sweep iterates over.
func (q *PendingQueues) FetchPendingTxs(ctx context.Context, limit int64) ([]PendingTx, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}}).SetLimit(limit)
	cur, err := q.Txs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending txs: %w", err)
	}
	defer cur.Close(ctx)

	var out []PendingTx
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode pending txs: %w", err)
	}
	return out, nil
}

// BulkWriteMessages applies an ordered batch of insert/delete models
// against the pending-message collection. A nil or empty ops list is a
// no-op.
func (q *PendingQueues) BulkWriteMessages(ctx context.Context, ops []mongo.WriteModel) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := q.Messages.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("bulk write pending messages: %w", err)
	}
	return nil
}

// BulkWriteTxs applies an ordered batch of delete models against the
// pending-tx collection. A nil or empty ops list is a no-op.
func (q *PendingQueues) BulkWriteTxs(ctx context.Context, ops []mongo.WriteModel) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := q.Txs.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("bulk write pending txs: %w", err)
	}
	return nil
}

// InsertPendingMessage builds the insert model for a message extracted
// from a chain transaction, carrying the tx's provenance as source.
func InsertPendingMessage(msg Message, txCtx PendingTxContext) mongo.WriteModel {
	return mongo.NewInsertOneModel().SetDocument(PendingMessage{
		Time:    txCtx.Time,
		Message: msg,
		Source: PendingSource{
			ChainName:    txCtx.ChainName,
			TxHash:       txCtx.TxHash,
			Height:       txCtx.Height,
			CheckMessage: true,
		},
	})
}

// DeleteByID builds a delete model matching a record's _id, the shape both
// sweeps use to retire a terminally-handled record.
func DeleteByID(id interface{}) mongo.WriteModel {
	return mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id})
}
