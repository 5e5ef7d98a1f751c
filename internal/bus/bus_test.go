package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

type recordingObserver struct {
	name   string
	events []model.EpistemicEvent
	err    error
	panics bool
}

func (r *recordingObserver) Name() string { return r.name }

func (r *recordingObserver) OnEvent(_ context.Context, e model.EpistemicEvent) error {
	if r.panics {
		panic("observer exploded")
	}
	r.events = append(r.events, e)
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishRejectsUnknownEventType(t *testing.T) {
	b := New(testLogger())
	err := b.Publish(context.Background(), model.EpistemicEvent{
		EventType: "vibes_shifted",
		SessionID: "s1",
	})
	assert.ErrorIs(t, err, model.ErrBadInput)
	assert.EqualValues(t, 0, b.GetEventCount())
}

func TestPublishRequiresSession(t *testing.T) {
	b := New(testLogger())
	err := b.Publish(context.Background(), model.EpistemicEvent{
		EventType: model.EventSessionStarted,
	})
	assert.ErrorIs(t, err, model.ErrBadInput)
}

func TestPublishFansOutInOrder(t *testing.T) {
	b := New(testLogger())
	first := &recordingObserver{name: "first"}
	second := &recordingObserver{name: "second"}
	b.Subscribe(first)
	b.Subscribe(second)
	assert.Equal(t, 2, b.GetObserverCount())

	err := b.Publish(context.Background(), model.EpistemicEvent{
		EventType: model.EventPhaseTransition,
		SessionID: "s1",
		AgentID:   "a1",
		Data:      map[string]any{"to": "CHECK"},
	})
	require.NoError(t, err)

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.False(t, first.events[0].Timestamp.IsZero(), "timestamp stamped on publish")
	assert.EqualValues(t, 1, b.GetEventCount())
}

func TestObserverFailureDoesNotBreakEmission(t *testing.T) {
	b := New(testLogger())
	failing := &recordingObserver{name: "failing", err: errors.New("disk full")}
	panicking := &recordingObserver{name: "panicking", panics: true}
	healthy := &recordingObserver{name: "healthy"}
	b.Subscribe(failing)
	b.Subscribe(panicking)
	b.Subscribe(healthy)

	err := b.Publish(context.Background(), model.EpistemicEvent{
		EventType: model.EventMemoryPressure,
		SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Len(t, healthy.events, 1, "healthy observer still delivered")
	assert.EqualValues(t, 1, b.GetEventCount())
}

func TestSQLiteObserverFlushesAndDrains(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now().UTC()
	require.NoError(t, db.CreateSession(ctx, model.Session{
		SessionID: "s1", AIID: "a1", StartTime: now, CreatedAt: now,
	}))

	obs := NewSQLiteObserver(db, "node-1", testLogger(),
		WithBatchSize(100), WithFlushInterval(time.Hour))
	b := New(testLogger())
	b.Subscribe(obs)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, model.EpistemicEvent{
			EventType: model.EventContextInjected,
			SessionID: "s1",
			AgentID:   "a1",
		}))
	}

	// Large batch size and idle ticker: nothing persisted until Drain.
	n, err := db.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	require.NoError(t, obs.Drain(ctx))
	n, err = db.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	// Drain is idempotent.
	require.NoError(t, obs.Drain(ctx))
}

func TestSQLiteObserverInlineFlushOnFullBuffer(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	obs := NewSQLiteObserver(db, "node-1", testLogger(),
		WithBatchSize(2), WithFlushInterval(time.Hour), WithOutboxEnqueue(true))
	t.Cleanup(func() { _ = obs.Drain(ctx) })

	for i := 0; i < 2; i++ {
		require.NoError(t, obs.OnEvent(ctx, model.EpistemicEvent{
			EventType: model.EventGoalCreated,
			SessionID: "s1",
			AgentID:   "a1",
			Timestamp: time.Now().UTC(),
		}))
	}

	n, err := db.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	pending, err := db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
