package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/store"
)

// queueStore is the slice of the durable record store the queue needs.
type queueStore interface {
	EnqueueOutbound(ctx context.Context, item *store.OutboundItem) error
	PendingOutbound(ctx context.Context) ([]store.OutboundItem, error)
	MarkOutboundAttempt(ctx context.Context, seq uint64, at time.Time) error
	DeleteOutbound(ctx context.Context, seq uint64) error
}

// Queue is the durably persisted offline outbound queue. Enqueue never
// touches the network; Flush drains pending items in enqueue order through
// the immediate channel, removing an item only on positive acknowledgment.
// Failed items stay pending and are reattempted on the next flush trigger,
// with no upper bound on retries: workout data has no natural expiry.
type Queue struct {
	store     queueStore
	transport Transport
	ids       IDProvider
	clock     func() time.Time
	logger    *zap.Logger

	flushMu stdsync.Mutex
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Store     queueStore
	Transport Transport
	IDs       IDProvider
	Clock     func() time.Time
	Logger    *zap.Logger
}

// NewQueue constructs a Queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Store == nil {
		return nil, newSyncError(opQueueNew, "missing_store", errMissingStore)
	}
	if cfg.Transport == nil {
		return nil, newSyncError(opQueueNew, "missing_transport", errMissingTransport)
	}
	if cfg.IDs == nil {
		return nil, newSyncError(opQueueNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:     cfg.Store,
		transport: cfg.Transport,
		ids:       cfg.IDs,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Enqueue appends the event to the persisted queue and returns immediately.
// It must never block on network state.
func (q *Queue) Enqueue(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return newSyncError(opQueueEnqueue, "encode_failed", err)
	}
	itemID, err := q.ids.NewID()
	if err != nil {
		return newSyncError(opQueueEnqueue, "id_generation_failed", err)
	}
	item := &store.OutboundItem{
		ItemID:            itemID,
		EventType:         string(event.Type),
		PayloadJSON:       string(payload),
		EnqueuedAtSeconds: q.clock().UTC().Unix(),
	}
	if err := q.store.EnqueueOutbound(ctx, item); err != nil {
		return newSyncError(opQueueEnqueue, "persist_failed", err)
	}
	q.logger.Debug("event enqueued",
		zap.String("item_id", itemID),
		zap.String("event_type", string(event.Type)))
	return nil
}

// FlushResult summarizes one drain pass.
type FlushResult struct {
	// Skipped reports that another flush was already running and this call
	// was a no-op.
	Skipped   bool
	Delivered int
	Remaining int
}

// Flush drains pending items in enqueue order. It is non-reentrant: a flush
// requested while one is running is a no-op. A failed item stays pending and
// the pass continues with the next item, so one bad send never aborts the
// batch.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	if !q.flushMu.TryLock() {
		return FlushResult{Skipped: true}, nil
	}
	defer q.flushMu.Unlock()

	pending, err := q.store.PendingOutbound(ctx)
	if err != nil {
		return FlushResult{}, newSyncError(opQueueFlush, "load_pending_failed", err)
	}

	result := FlushResult{}
	for _, item := range pending {
		event, err := DecodeEvent([]byte(item.PayloadJSON))
		if err != nil {
			// An undecodable item can never deliver; drop it rather than
			// wedge the queue head forever.
			q.logger.Error("dropping undecodable queue item",
				zap.String("item_id", item.ItemID),
				zap.Error(err))
			if err := q.store.DeleteOutbound(ctx, item.Seq); err != nil {
				return result, newSyncError(opQueueFlush, "drop_failed", err)
			}
			continue
		}

		if err := q.transport.SendImmediate(ctx, event); err != nil {
			result.Remaining++
			q.logger.Debug("queue item stays pending",
				zap.String("item_id", item.ItemID),
				zap.Error(err))
			if err := q.store.MarkOutboundAttempt(ctx, item.Seq, q.clock().UTC()); err != nil {
				return result, newSyncError(opQueueFlush, "mark_attempt_failed", err)
			}
			continue
		}

		if err := q.store.DeleteOutbound(ctx, item.Seq); err != nil {
			return result, newSyncError(opQueueFlush, "ack_removal_failed", err)
		}
		result.Delivered++
	}

	if result.Delivered > 0 || result.Remaining > 0 {
		q.logger.Info("queue flushed",
			zap.Int("delivered", result.Delivered),
			zap.Int("remaining", result.Remaining))
	}
	return result, nil
}

// Depth reports how many items are awaiting delivery.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	pending, err := q.store.PendingOutbound(ctx)
	if err != nil {
		return 0, newSyncError(opQueueDepth, "load_pending_failed", err)
	}
	return len(pending), nil
}
