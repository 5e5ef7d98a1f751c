package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/service/embedding"
	"github.com/empirica-ai/empirica/internal/storage"
	"github.com/empirica-ai/empirica/internal/telemetry"
)

// Indexer is the subset of QdrantIndex the outbox worker needs. Split out so
// tests can substitute a fake.
type Indexer interface {
	Upsert(ctx context.Context, points []Point) error
	Healthy(ctx context.Context) error
}

// OutboxWorker polls the vector_outbox table and syncs pending events into
// the vector index. SQLite stays the source of truth; index lag is bounded by
// the poll interval.
type OutboxWorker struct {
	db           *storage.DB
	index        Indexer
	embedder     embedding.Provider
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewOutboxWorker creates a new outbox worker.
func NewOutboxWorker(db *storage.DB, index Indexer, embedder embedding.Provider, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &OutboxWorker{
		db:           db,
		index:        index,
		embedder:     embedder,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("vector outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining entries, and
// blocks until done or the context expires.
func (w *OutboxWorker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free). Must be
	// sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("vector outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context so the last poll respects
			// the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) {
	entries, err := w.db.FetchOutbox(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("vector outbox: fetch pending", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	if err := w.index.Healthy(ctx); err != nil {
		// Leave the entries queued; they will be retried on the next poll.
		w.logger.Warn("vector outbox: index unavailable, deferring", "count", len(entries), "error", err)
		return
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = eventText(e.Event)
	}

	embeddings, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.logger.Error("vector outbox: embed batch", "count", len(texts), "error", err)
		return
	}

	points := make([]Point, len(entries))
	for i, e := range entries {
		points[i] = Point{
			ID:        e.Event.ID,
			SessionID: e.Event.SessionID,
			AgentID:   e.Event.AgentID,
			EventType: e.Event.EventType,
			Timestamp: e.Event.Timestamp,
			Embedding: embeddings[i],
		}
	}

	if err := w.index.Upsert(ctx, points); err != nil {
		w.logger.Error("vector outbox: upsert", "count", len(points), "error", err)
		return
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.OutboxID
	}
	if err := w.db.DeleteOutbox(ctx, ids); err != nil {
		w.logger.Error("vector outbox: delete completed entries", "error", err)
		return
	}
	w.logger.Debug("vector outbox: indexed", "count", len(points))
}

// maxEmbedPayload bounds the payload portion of the embed text so oversized
// events produce bounded, uniformly shaped embeddings.
const maxEmbedPayload = 500

// eventText renders an event as the text to embed: "{type}: {agent_id} {data}".
func eventText(e model.StoredEvent) string {
	data := e.DataJSON
	if len(data) > maxEmbedPayload {
		data = data[:maxEmbedPayload]
	}
	return fmt.Sprintf("%s: %s %s", e.EventType, e.AgentID, data)
}

// registerMetrics registers an observable OTEL gauge for outbox depth.
func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("empirica/outbox")

	_, _ = meter.Int64ObservableGauge("empirica.outbox.depth",
		metric.WithDescription("Number of pending entries in the vector outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var count int64
			if err := w.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM vector_outbox`); err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}
