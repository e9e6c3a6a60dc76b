package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// fakePendingStore is an in-memory PendingStore, standing in for a live
// MongoDB connection so the workers' concurrency and retry behaviour can
// be exercised directly.
type fakePendingStore struct {
	mu       sync.Mutex
	messages map[int]PendingMessage
	txs      map[int]PendingTx
	nextID   int
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{
		messages: make(map[int]PendingMessage),
		txs:      make(map[int]PendingTx),
	}
}

func (f *fakePendingStore) addMessage(msg PendingMessage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	msg.ID = id
	f.messages[id] = msg
	return id
}

func (f *fakePendingStore) addTx(tx PendingTx) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	tx.ID = id
	f.txs[id] = tx
	return id
}

func (f *fakePendingStore) FetchPendingMessages(ctx context.Context, limit int64) ([]PendingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PendingMessage, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakePendingStore) FetchPendingTxs(ctx context.Context, limit int64) ([]PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PendingTx, 0, len(f.txs))
	for _, tx := range f.txs {
		out = append(out, tx)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakePendingStore) applyModel(model mongo.WriteModel, target string) {
	switch m := model.(type) {
	case *mongo.DeleteOneModel:
		filter, ok := m.Filter.(bson.M)
		if !ok {
			return
		}
		id, ok := filter["_id"].(int)
		if !ok {
			return
		}
		if target == "messages" {
			delete(f.messages, id)
		} else {
			delete(f.txs, id)
		}
	case *mongo.InsertOneModel:
		doc, ok := m.Document.(PendingMessage)
		if !ok {
			return
		}
		f.nextID++
		doc.ID = f.nextID
		f.messages[f.nextID] = doc
	}
}

func (f *fakePendingStore) BulkWriteMessages(ctx context.Context, ops []mongo.WriteModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.applyModel(op, "messages")
	}
	return nil
}

func (f *fakePendingStore) BulkWriteTxs(ctx context.Context, ops []mongo.WriteModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.applyModel(op, "txs")
	}
	return nil
}

func (f *fakePendingStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakePendingStore) txCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRetryMessagesJobBoundedConcurrency(t *testing.T) {
	store := newFakePendingStore()
	for i := 0; i < 50; i++ {
		store.addMessage(PendingMessage{Message: Message{ItemHash: fmt.Sprintf("h%d", i), Chain: "ETH"}})
	}

	var inFlight, maxInFlight int64
	incoming := func(ctx context.Context, msg Message, source PendingSource, seen *SeenIDs, retrying bool) (bool, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return true, nil
	}

	jobs := NewJobs(store, incoming, DefaultChaindataExtractor, quietLogger())
	jobs.MessageConcurrency = 5
	jobs.MessageDrainEvery = 5

	if err := jobs.RetryMessagesJob(context.Background()); err != nil {
		t.Fatalf("RetryMessagesJob() error: %v", err)
	}
	if got := atomic.LoadInt64(&maxInFlight); got > int64(jobs.MessageConcurrency) {
		t.Fatalf("max concurrent handlers = %d, want <= %d", got, jobs.MessageConcurrency)
	}
	if store.messageCount() != 0 {
		t.Fatalf("messageCount() = %d, want 0 after a fully successful sweep", store.messageCount())
	}
}

func TestRetryMessagesJobLeavesUnresolvedPending(t *testing.T) {
	store := newFakePendingStore()
	store.addMessage(PendingMessage{Message: Message{ItemHash: "stays-pending", Chain: "ETH"}})
	store.addMessage(PendingMessage{Message: Message{ItemHash: "resolves", Chain: "ETH"}})

	incoming := func(ctx context.Context, msg Message, source PendingSource, seen *SeenIDs, retrying bool) (bool, error) {
		return msg.ItemHash == "resolves", nil
	}

	jobs := NewJobs(store, incoming, DefaultChaindataExtractor, quietLogger())
	if err := jobs.RetryMessagesJob(context.Background()); err != nil {
		t.Fatalf("RetryMessagesJob() error: %v", err)
	}
	if store.messageCount() != 1 {
		t.Fatalf("messageCount() = %d, want 1 (unresolved record stays queued)", store.messageCount())
	}
}

func TestHandleTxsJobExpandsIntoMessages(t *testing.T) {
	store := newFakePendingStore()
	store.addTx(PendingTx{
		Content: []byte("chaindata"),
		Context: PendingTxContext{ChainName: "ETH", TxHash: "0xdeadbeef", Time: 1700000000},
	})

	extractor := func(ctx context.Context, content []byte, txCtx PendingTxContext) (*TxExtractResult, error) {
		return &TxExtractResult{Messages: []Message{
			{ItemHash: "extracted-1", Chain: txCtx.ChainName},
			{ItemHash: "extracted-2", Chain: txCtx.ChainName},
		}}, nil
	}

	jobs := NewJobs(store, DefaultIncoming(nil, quietLogger()), extractor, quietLogger())
	if err := jobs.HandleTxsJob(context.Background()); err != nil {
		t.Fatalf("HandleTxsJob() error: %v", err)
	}
	if store.txCount() != 0 {
		t.Fatalf("txCount() = %d, want 0 (tx retired once expanded)", store.txCount())
	}
	if store.messageCount() != 2 {
		t.Fatalf("messageCount() = %d, want 2 (both extracted messages enqueued)", store.messageCount())
	}
}

func TestHandleTxsJobLeavesUndecidedTxPending(t *testing.T) {
	store := newFakePendingStore()
	store.addTx(PendingTx{
		Content: []byte("chaindata"),
		Context: PendingTxContext{ChainName: "ETH", TxHash: "0xdeadbeef", Time: 1700000000},
	})

	extractor := func(ctx context.Context, content []byte, txCtx PendingTxContext) (*TxExtractResult, error) {
		return nil, nil // not enough confirmations yet: leave it pending
	}

	jobs := NewJobs(store, DefaultIncoming(nil, quietLogger()), extractor, quietLogger())
	if err := jobs.HandleTxsJob(context.Background()); err != nil {
		t.Fatalf("HandleTxsJob() error: %v", err)
	}
	if store.txCount() != 1 {
		t.Fatalf("txCount() = %d, want 1 (undecided tx must stay queued)", store.txCount())
	}
}

func TestSeenIDsMarkSeenIsPerChain(t *testing.T) {
	seen := NewSeenIDs("ETH", "NULS")
	if !seen.MarkSeen("ETH", "id-1") {
		t.Fatal("first mark of id-1 on ETH should return true")
	}
	if seen.MarkSeen("ETH", "id-1") {
		t.Fatal("repeat mark of id-1 on ETH should return false")
	}
	if !seen.MarkSeen("NULS", "id-1") {
		t.Fatal("same id on a different chain should be independently unseen")
	}
}
