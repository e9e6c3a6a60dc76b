package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/semaphore"
)

// defaultSeenChains seeds seen_ids with the well-known chains. Callers can
// replace the set through Jobs.SeenChains; SeenIDs.MarkSeen also creates a
// set lazily for any other chain.
var defaultSeenChains = []string{"NULS", "ETH", "BNB"}

// SeenIDs is the per-chain set of already-processed identifiers shared
// between concurrent handlers within one sweep. It is safe for concurrent
// use; each sweep starts from a fresh table.
type SeenIDs struct {
	mu     sync.Mutex
	chains map[string]map[string]struct{}
}

// NewSeenIDs returns a SeenIDs table pre-populated with empty sets for the
// given chain names.
func NewSeenIDs(chains ...string) *SeenIDs {
	s := &SeenIDs{chains: make(map[string]map[string]struct{}, len(chains))}
	for _, c := range chains {
		s.chains[c] = make(map[string]struct{})
	}
	return s
}

// MarkSeen records id as seen for chain, returning true if it was not
// already present. An unknown chain gets its set created lazily.
func (s *SeenIDs) MarkSeen(chain, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.chains[chain]
	if !ok {
		set = make(map[string]struct{})
		s.chains[chain] = set
	}
	if _, seen := set[id]; seen {
		return false
	}
	set[id] = struct{}{}
	return true
}

// IncomingFunc is the downstream handler external to this core: given
// a checked message and the provenance it was queued with, it reports
// whether the record is terminally handled (see handlePendingMessage).
type IncomingFunc func(ctx context.Context, msg Message, source PendingSource, seen *SeenIDs, retrying bool) (bool, error)

// TxExtractResult is the external chain-data extractor's verdict on a
// pending transaction: Messages is the list of envelopes it expanded the
// tx into (possibly empty). The tx worker retires the tx for any non-nil
// result and leaves it pending for a nil one; it does not read Handled.
type TxExtractResult struct {
	Messages []Message
	Handled  bool
}

// ChaindataExtractorFunc is the external chain-data extractor the tx
// worker drives.
type ChaindataExtractorFunc func(ctx context.Context, content []byte, txCtx PendingTxContext) (*TxExtractResult, error)

// Jobs holds the two long-lived sweep loops that drain the pending-message
// and pending-tx queues with bounded concurrency.
type Jobs struct {
	Queues    PendingStore
	Incoming  IncomingFunc
	Extractor ChaindataExtractorFunc
	Logger    *logrus.Logger

	// MessageConcurrency/TxConcurrency bound in-flight per-record handler
	// goroutines; MessageDrainEvery/TxDrainEvery control how often a
	// sweep awaits outstanding tasks and flushes accumulated bulk writes.
	MessageConcurrency int
	TxConcurrency      int
	MessageDrainEvery  int
	TxDrainEvery       int
	SweepInterval      time.Duration
	SeenChains         []string
}

// NewJobs returns a Jobs with the default tuning: 200 concurrent message
// handlers draining every 200 launches, 100 concurrent tx handlers
// draining every 100 launches, a 1 second inter-sweep sleep.
func NewJobs(queues PendingStore, incoming IncomingFunc, extractor ChaindataExtractorFunc, logger *logrus.Logger) *Jobs {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Jobs{
		Queues:             queues,
		Incoming:           incoming,
		Extractor:          extractor,
		Logger:             logger,
		MessageConcurrency: 200,
		TxConcurrency:      100,
		MessageDrainEvery:  200,
		TxDrainEvery:       100,
		SweepInterval:      time.Second,
		SeenChains:         defaultSeenChains,
	}
}

const pendingSweepLimit = 1000

// RetryMessagesJob runs one sweep over the pending-message queue: drains
// up to 1000 records in time order, launching a bounded number of
// concurrent handlers and periodically flushing bulk deletes.
func (j *Jobs) RetryMessagesJob(ctx context.Context) error {
	sweepID := uuid.New().String()
	recs, err := j.Queues.FetchPendingMessages(ctx, pendingSweepLimit)
	if err != nil {
		return err
	}
	j.Logger.Debugf("sweep %s: draining %d pending messages", sweepID, len(recs))

	seen := NewSeenIDs(j.SeenChains...)
	sem := semaphore.NewWeighted(int64(j.MessageConcurrency))

	var (
		mu      sync.Mutex
		actions []mongo.WriteModel
		wg      sync.WaitGroup
	)
	launched := 0
	for i := range recs {
		rec := recs[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			j.handlePendingMessage(ctx, rec, seen, &mu, &actions)
		}()
		launched++
		if launched%j.MessageDrainEvery == 0 {
			wg.Wait()
			j.drainMessages(ctx, &mu, &actions)
		}
	}
	wg.Wait()
	j.drainMessages(ctx, &mu, &actions)
	return nil
}

func (j *Jobs) handlePendingMessage(ctx context.Context, rec PendingMessage, seen *SeenIDs, mu *sync.Mutex, actions *[]mongo.WriteModel) {
	ok, err := j.Incoming(ctx, rec.Message, rec.Source, seen, true)
	if err != nil {
		j.Logger.Warnf("incoming task failed for %s: %v", rec.Message.ItemHash, err)
		return
	}
	if !ok {
		return
	}
	mu.Lock()
	*actions = append(*actions, DeleteByID(rec.ID))
	mu.Unlock()
}

func (j *Jobs) drainMessages(ctx context.Context, mu *sync.Mutex, actions *[]mongo.WriteModel) {
	mu.Lock()
	ops := *actions
	*actions = nil
	mu.Unlock()
	if len(ops) == 0 {
		return
	}
	if err := j.Queues.BulkWriteMessages(ctx, ops); err != nil {
		j.Logger.Warnf("bulk write pending messages: %v", err)
	}
}

// RetryMessagesTask loops RetryMessagesJob forever, logging and continuing
// on any sweep error, sleeping SweepInterval between sweeps, until ctx is
// cancelled.
func (j *Jobs) RetryMessagesTask(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := j.RetryMessagesJob(ctx); err != nil {
			j.Logger.Errorf("error in pending messages retry job: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(j.SweepInterval):
		}
	}
}

// HandleTxsJob runs one sweep over the pending-tx queue: drains up to 1000
// records in time order, expanding each into pending messages via the
// external extractor.
func (j *Jobs) HandleTxsJob(ctx context.Context) error {
	sweepID := uuid.New().String()
	recs, err := j.Queues.FetchPendingTxs(ctx, pendingSweepLimit)
	if err != nil {
		return err
	}
	j.Logger.Debugf("sweep %s: draining %d pending txs", sweepID, len(recs))

	sem := semaphore.NewWeighted(int64(j.TxConcurrency))

	var (
		mu      sync.Mutex
		actions []mongo.WriteModel
		wg      sync.WaitGroup
	)
	launched := 0
	for i := range recs {
		rec := recs[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			j.handlePendingTx(ctx, rec, &mu, &actions)
		}()
		launched++
		if launched%j.TxDrainEvery == 0 {
			wg.Wait()
			j.drainTxs(ctx, &mu, &actions)
		}
	}
	wg.Wait()
	j.drainTxs(ctx, &mu, &actions)
	return nil
}

func (j *Jobs) handlePendingTx(ctx context.Context, rec PendingTx, mu *sync.Mutex, actions *[]mongo.WriteModel) {
	result, err := j.Extractor(ctx, rec.Content, rec.Context)
	if err != nil {
		j.Logger.Warnf("chaindata extractor failed for tx %s: %v", rec.Context.TxHash, err)
		return
	}
	if result == nil {
		return // null return: leave the tx in place
	}

	if len(result.Messages) > 0 {
		inserts := make([]mongo.WriteModel, 0, len(result.Messages))
		for _, m := range result.Messages {
			m.Time = rec.Context.Time
			inserts = append(inserts, InsertPendingMessage(m, rec.Context))
		}
		if err := j.Queues.BulkWriteMessages(ctx, inserts); err != nil {
			j.Logger.Warnf("insert messages extracted from tx %s: %v", rec.Context.TxHash, err)
			return
		}
	}

	mu.Lock()
	*actions = append(*actions, DeleteByID(rec.ID))
	mu.Unlock()
}

func (j *Jobs) drainTxs(ctx context.Context, mu *sync.Mutex, actions *[]mongo.WriteModel) {
	mu.Lock()
	ops := *actions
	*actions = nil
	mu.Unlock()
	if len(ops) == 0 {
		return
	}
	if err := j.Queues.BulkWriteTxs(ctx, ops); err != nil {
		j.Logger.Warnf("bulk write pending txs: %v", err)
	}
}

// HandleTxsTask has the same supervision loop as RetryMessagesTask.
func (j *Jobs) HandleTxsTask(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		j.Logger.Debug("handling TXs")
		if err := j.HandleTxsJob(ctx); err != nil {
			j.Logger.Errorf("error in pending txs job: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(j.SweepInterval):
		}
	}
}
