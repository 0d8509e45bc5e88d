package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/veritas-labs/trustgate/internal/fanout"
	"github.com/veritas-labs/trustgate/internal/ledger"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

const (
	defaultMaxAttempts = 4
	defaultBackoffBase = 1000 * time.Millisecond
	defaultSubmitPause = 500 * time.Millisecond
)

// QueueConfig holds the retry policy for NewChainQueue.  Zero values take
// the defaults: 4 attempts, 1s backoff base, 500ms post-submit pause.
type QueueConfig struct {
	// MaxAttempts bounds submissions per item; after that the item is
	// dropped with a post-chain-failed record.
	MaxAttempts int

	// BackoffBase scales the exponential backoff: the k-th retry waits
	// BackoffBase * 2^k.
	BackoffBase time.Duration

	// Pause is the fixed delay after each successful submission.
	Pause time.Duration
}

// QueueItem is one flagged event waiting for ledger submission.  It is owned
// exclusively by the queue worker while in flight.
type QueueItem struct {
	Record   store.EventRecord
	Attempts int
}

// ChainQueue relays flagged events to the ledger, strictly one submission in
// flight at a time for the whole process.  The ledger endpoint is the
// scarcest, least reliable resource here; a single slow submission delaying
// the rest is the intended admission control, not a bottleneck.  Backoff
// waits suspend only the queue worker, never ingestion.
type ChainQueue struct {
	ledger      ledger.Adapter
	events      store.EventStore
	hub         *fanout.Hub
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	pause       time.Duration

	mu       sync.Mutex
	queue    []*QueueItem
	draining bool

	stop     chan struct{}
	stopOnce sync.Once
	idle     sync.WaitGroup
}

func NewChainQueue(adapter ledger.Adapter, events store.EventStore, hub *fanout.Hub, cfg QueueConfig, logger *log.Logger) *ChainQueue {
	if adapter == nil {
		adapter = ledger.Disabled{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.Pause <= 0 {
		cfg.Pause = defaultSubmitPause
	}
	return &ChainQueue{
		ledger:      adapter,
		events:      events,
		hub:         hub,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		pause:       cfg.Pause,
		stop:        make(chan struct{}),
	}
}

// Enqueue appends the item at the tail, persists a `queued` marker, and
// starts the drain worker if none is running.
func (q *ChainQueue) Enqueue(ctx context.Context, item QueueItem) {
	rec := item.Record
	rec.Stage = types.StageQueued
	if err := q.events.Append(ctx, rec); err != nil {
		q.logger.Printf("chainqueue: queued marker append failed for %s: %v", rec.EventID, err)
	}
	q.hub.Publish(fanout.TopicLifecycle, rec.Summary())

	q.mu.Lock()
	q.queue = append(q.queue, &item)
	start := !q.draining
	if start {
		q.draining = true
		q.idle.Add(1)
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

// Stop signals the worker to exit after the in-flight item and waits for it.
// Items still queued are left unsubmitted; they are recoverable from the
// persisted `queued` markers.
func (q *ChainQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.idle.Wait()
}

// Pending returns the number of items waiting in the queue.
func (q *ChainQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// drain processes items strictly in FIFO order, one at a time.  It exits
// exactly when the queue is empty; a later Enqueue starts a fresh worker.
func (q *ChainQueue) drain() {
	defer q.idle.Done()

	for {
		select {
		case <-q.stop:
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		default:
		}

		q.mu.Lock()
		if len(q.queue) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.process(item)
	}
}

func (q *ChainQueue) process(item *QueueItem) {
	ctx := context.Background()
	rec := item.Record

	txID, err := q.ledger.Submit(ctx, entryFor(rec))
	if err != nil {
		item.Attempts++
		// An unconfigured adapter can never succeed; retrying would only
		// stall the worker through pointless backoff waits.
		if errors.Is(err, ledger.ErrNotConfigured) || item.Attempts >= q.maxAttempts {
			q.logger.Printf("chainqueue: dropping %s after %d attempts: %v", rec.EventID, item.Attempts, err)
			failed := rec
			failed.Stage = types.StagePostChainFailed
			failed.Detail = err.Error()
			if aerr := q.events.Append(ctx, failed); aerr != nil {
				q.logger.Printf("chainqueue: post-chain-failed append failed for %s: %v", rec.EventID, aerr)
			}
			q.hub.Publish(fanout.TopicLifecycle, failed.Summary())
			return
		}

		q.logger.Printf("chainqueue: submit failed for %s (attempt %d): %v", rec.EventID, item.Attempts, err)
		q.mu.Lock()
		q.queue = append(q.queue, item)
		q.mu.Unlock()

		q.wait(q.backoffBase * (1 << item.Attempts))
		return
	}

	confirmed := rec
	confirmed.Stage = types.StagePostChain
	confirmed.TxID = txID
	if aerr := q.events.Append(ctx, confirmed); aerr != nil {
		q.logger.Printf("chainqueue: post-chain append failed for %s: %v", rec.EventID, aerr)
	}
	q.hub.Publish(fanout.TopicLifecycle, confirmed.Summary())
	if confirmed.Flagged {
		q.hub.Publish(fanout.TopicFlagged, confirmed.Summary())
	}

	// Brief pause so back-to-back confirmations do not saturate the RPC
	// endpoint.
	q.wait(q.pause)
}

// wait blocks the worker (and only the worker) for d, or until Stop.
func (q *ChainQueue) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-q.stop:
	}
}

// entryFor maps an event record to the ledger's log shape.  TrustA is the
// score before the reading, TrustB after; absent scores submit as neutral.
func entryFor(rec store.EventRecord) ledger.LogEntry {
	old := types.NeutralTrust
	if rec.Payload.TrustA != nil {
		old = *rec.Payload.TrustA
	}
	nw := types.NeutralTrust
	if rec.Payload.TrustB != nil {
		nw = *rec.Payload.TrustB
	}
	ts := rec.Payload.TS
	if ts == 0 {
		ts = rec.ReceivedAt.Unix()
	}
	return ledger.LogEntry{
		GroupID:  rec.GroupID,
		OldTS:    old,
		NewTS:    nw,
		Reason:   rec.Payload.Reason,
		DataHash: rec.DataHash,
		TS:       ts,
	}
}
