package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// SQLiteObserver persists every published event through a write-behind
// buffer. Events are batched and flushed when the buffer fills or the flush
// interval elapses, whichever comes first. A full buffer on the hot path
// triggers an inline flush rather than dropping.
type SQLiteObserver struct {
	db     *storage.DB
	logger *slog.Logger
	nodeID string

	batchSize     int
	flushInterval time.Duration
	enqueueOutbox bool

	mu      sync.Mutex
	pending []model.StoredEvent

	done   chan struct{}
	closed sync.Once
}

// SQLiteObserverOption configures the observer.
type SQLiteObserverOption func(*SQLiteObserver)

// WithBatchSize sets the flush threshold.
func WithBatchSize(n int) SQLiteObserverOption {
	return func(o *SQLiteObserver) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFlushInterval sets the background flush period.
func WithFlushInterval(d time.Duration) SQLiteObserverOption {
	return func(o *SQLiteObserver) {
		if d > 0 {
			o.flushInterval = d
		}
	}
}

// WithOutboxEnqueue makes each flushed batch also enqueue vector_outbox rows
// so the index worker picks the events up.
func WithOutboxEnqueue(enabled bool) SQLiteObserverOption {
	return func(o *SQLiteObserver) { o.enqueueOutbox = enabled }
}

// NewSQLiteObserver creates the observer and starts its flush loop.
func NewSQLiteObserver(db *storage.DB, nodeID string, logger *slog.Logger, opts ...SQLiteObserverOption) *SQLiteObserver {
	o := &SQLiteObserver{
		db:            db,
		logger:        logger,
		nodeID:        nodeID,
		batchSize:     256,
		flushInterval: 100 * time.Millisecond,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.flushLoop()
	return o
}

// Name implements Observer.
func (o *SQLiteObserver) Name() string { return "sqlite" }

// OnEvent buffers the event for the next flush.
func (o *SQLiteObserver) OnEvent(ctx context.Context, e model.EpistemicEvent) error {
	now := time.Now().UTC()
	stored := model.StoredEvent{
		ID:        uuid.NewString(),
		SessionID: e.SessionID,
		EventType: e.EventType,
		AgentID:   e.AgentID,
		DataJSON:  e.DataJSON(),
		Timestamp: e.Timestamp,
		NodeID:    o.nodeID,
		CreatedAt: now,
	}

	o.mu.Lock()
	o.pending = append(o.pending, stored)
	full := len(o.pending) >= o.batchSize
	o.mu.Unlock()

	if full {
		return o.flush(ctx)
	}
	return nil
}

func (o *SQLiteObserver) flushLoop() {
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := o.flush(context.Background()); err != nil {
				o.logger.Warn("event flush failed", "error", err)
			}
		case <-o.done:
			return
		}
	}
}

func (o *SQLiteObserver) flush(ctx context.Context) error {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := o.db.InsertEvents(ctx, batch); err != nil {
		// Requeue at the front so nothing is lost; the next flush retries.
		o.mu.Lock()
		o.pending = append(batch, o.pending...)
		o.mu.Unlock()
		return err
	}
	if o.enqueueOutbox {
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := o.db.EnqueueOutbox(ctx, ids, time.Now().UTC()); err != nil {
			o.logger.Warn("outbox enqueue failed", "count", len(ids), "error", err)
		}
	}
	return nil
}

// Drain flushes all buffered events and stops the flush loop. Safe to call
// more than once.
func (o *SQLiteObserver) Drain(ctx context.Context) error {
	o.closed.Do(func() { close(o.done) })
	return o.flush(ctx)
}
