package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/service/embedding"
	"github.com/empirica-ai/empirica/internal/storage"
)

type fakeIndex struct {
	mu        sync.Mutex
	points    []Point
	healthErr error
	upsertErr error
}

func (f *fakeIndex) Upsert(_ context.Context, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeIndex) Healthy(context.Context) error { return f.healthErr }

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedOutbox(t *testing.T, db *storage.DB, n int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	events := make([]model.StoredEvent, n)
	ids := make([]string, n)
	for i := range events {
		events[i] = model.StoredEvent{
			ID:        uuid.NewString(),
			SessionID: "s1",
			EventType: model.EventPhaseTransition,
			AgentID:   "a1",
			DataJSON:  `{"to":"CHECK"}`,
			Timestamp: now,
			CreatedAt: now,
		}
		ids[i] = events[i].ID
	}
	require.NoError(t, db.InsertEvents(ctx, events))
	require.NoError(t, db.EnqueueOutbox(ctx, ids, now))
}

func TestOutboxWorkerProcessesBatch(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	seedOutbox(t, db, 3)

	idx := &fakeIndex{}
	w := NewOutboxWorker(db, idx, embedding.NewNoopProvider(8), testLogger(), time.Hour, 64)

	w.processBatch(ctx)

	assert.Equal(t, 3, idx.count())
	pending, err := db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "completed entries removed")
}

func TestOutboxWorkerDefersWhenIndexUnhealthy(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	seedOutbox(t, db, 2)

	idx := &fakeIndex{healthErr: errors.New("qdrant down")}
	w := NewOutboxWorker(db, idx, embedding.NewNoopProvider(8), testLogger(), time.Hour, 64)

	w.processBatch(ctx)

	assert.Equal(t, 0, idx.count())
	pending, err := db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "entries stay queued for retry")
}

func TestOutboxWorkerKeepsEntriesOnUpsertFailure(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	seedOutbox(t, db, 1)

	idx := &fakeIndex{upsertErr: errors.New("write rejected")}
	w := NewOutboxWorker(db, idx, embedding.NewNoopProvider(8), testLogger(), time.Hour, 64)

	w.processBatch(ctx)

	pending, err := db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOutboxWorkerDrainProcessesRemainder(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	seedOutbox(t, db, 2)

	idx := &fakeIndex{}
	w := NewOutboxWorker(db, idx, embedding.NewNoopProvider(8), testLogger(), time.Hour, 64)
	w.Start(ctx)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)

	assert.Equal(t, 2, idx.count())
}

func TestEventTextFormatAndTruncation(t *testing.T) {
	e := model.StoredEvent{
		EventType: model.EventPhaseTransition,
		AgentID:   "a1",
		DataJSON:  `{"to":"CHECK"}`,
	}
	assert.Equal(t, `phase_transition: a1 {"to":"CHECK"}`, eventText(e))

	e.DataJSON = strings.Repeat("x", 600)
	text := eventText(e)
	assert.Equal(t, "phase_transition: a1 "+strings.Repeat("x", 500), text)
	assert.Len(t, text, len("phase_transition")+2+len("a1")+1+500)
}

func TestParseQdrantURL(t *testing.T) {
	host, port, tls, err := parseQdrantURL("https://xyz.cloud.qdrant.io:6333")
	require.NoError(t, err)
	assert.Equal(t, "xyz.cloud.qdrant.io", host)
	assert.Equal(t, 6334, port, "REST port mapped to gRPC port")
	assert.True(t, tls)

	host, port, tls, err = parseQdrantURL("http://localhost:6334")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.False(t, tls)

	_, _, _, err = parseQdrantURL("::not-a-url")
	assert.Error(t, err)
}
