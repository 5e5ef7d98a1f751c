package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSession(t *testing.T, db *DB) model.Session {
	t.Helper()
	now := time.Now().UTC()
	s := model.Session{
		SessionID: uuid.NewString(),
		AIID:      "claude-test",
		StartTime: now,
		CreatedAt: now,
	}
	require.NoError(t, db.CreateSession(context.Background(), s))
	return s
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	got, err := db.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.AIID, got.AIID)
	assert.Nil(t, got.EndTime)

	require.NoError(t, db.EndSession(ctx, s.SessionID, time.Now().UTC()))
	got, err = db.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndTime)

	_, err = db.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNoSession)

	err = db.EndSession(ctx, "missing", time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrNoSession)
}

func TestInsertReflexRequiresSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.InsertReflex(ctx, &model.Reflex{
		SessionID:     "ghost",
		Phase:         model.PhasePreflight,
		Round:         1,
		VectorsJSON:   "{}",
		Decision:      "submitted",
		Timestamp:     time.Now().UTC(),
		TransactionID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, model.ErrNoSession)
}

func TestReflexRoundsMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	mk := func(round int) *model.Reflex {
		return &model.Reflex{
			SessionID:     s.SessionID,
			Phase:         model.PhaseCheck,
			Round:         round,
			VectorsJSON:   "{}",
			Decision:      "investigate",
			Timestamp:     time.Now().UTC(),
			TransactionID: uuid.NewString(),
		}
	}
	require.NoError(t, db.InsertReflex(ctx, mk(1)))
	require.NoError(t, db.InsertReflex(ctx, mk(2)))

	err := db.InsertReflex(ctx, mk(1))
	assert.ErrorIs(t, err, model.ErrPhaseViolation)

	latest, err := db.LatestReflex(ctx, s.SessionID, model.PhaseCheck)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Round)
}

func TestListReflexesCascadeOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	for _, phase := range []model.Phase{model.PhasePostflight, model.PhaseAct, model.PhasePreflight, model.PhaseCheck} {
		require.NoError(t, db.InsertReflex(ctx, &model.Reflex{
			SessionID:     s.SessionID,
			Phase:         phase,
			Round:         1,
			VectorsJSON:   "{}",
			Decision:      "submitted",
			Timestamp:     time.Now().UTC(),
			TransactionID: uuid.NewString(),
		}))
	}

	got, err := db.ListReflexes(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, model.PhasePreflight, got[0].Phase)
	assert.Equal(t, model.PhaseCheck, got[1].Phase)
	assert.Equal(t, model.PhaseAct, got[2].Phase)
	assert.Equal(t, model.PhasePostflight, got[3].Phase)
}

func TestGoalScopeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	g := &model.Goal{
		ID:        uuid.NewString(),
		SessionID: s.SessionID,
		Objective: "map the auth module",
		Scope: model.GoalScope{
			Breadth:      "single_module",
			Duration:     "single_session",
			Coordination: "solo",
		},
		Status:           model.GoalOpen,
		CreatedTimestamp: time.Now().UTC(),
	}
	require.NoError(t, db.CreateGoal(ctx, g))

	got, err := db.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "single_module", got.Scope.Breadth)

	got.Objective = "map the auth and session modules"
	got.Lineage = append(got.Lineage, model.LineageEntry{
		Timestamp: time.Now().UTC(),
		Field:     "objective",
		OldValue:  g.Objective,
		NewValue:  got.Objective,
	})
	require.NoError(t, db.UpdateGoal(ctx, &got))

	again, err := db.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, again.Lineage, 1)
	assert.Equal(t, "objective", again.Lineage[0].Field)

	require.NoError(t, db.CompleteGoal(ctx, g.ID, time.Now().UTC()))
	done, err := db.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GoalCompleted, done.Status)
	assert.NotNil(t, done.CompletedTimestamp)
}

func TestUnknownResolution(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	u := model.Unknown{
		ID:               uuid.NewString(),
		SessionID:        s.SessionID,
		Unknown:          "does the scheduler handle leap seconds",
		CreatedTimestamp: time.Now().UTC(),
	}
	require.NoError(t, db.InsertUnknown(ctx, u))

	open, err := db.ListUnknowns(ctx, s.SessionID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, db.ResolveUnknown(ctx, u.ID, "finding: it delegates to NTP"))
	open, err = db.ListUnknowns(ctx, s.SessionID, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := db.ListUnknowns(ctx, s.SessionID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsResolved)
}

func TestSuggestionReviewOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)

	sg := model.Suggestion{
		ID:               uuid.NewString(),
		SessionID:        s.SessionID,
		Suggestion:       "add a retry budget to the fetcher",
		Confidence:       0.7,
		Status:           model.SuggestionPending,
		CreatedTimestamp: time.Now().UTC(),
	}
	require.NoError(t, db.InsertSuggestion(ctx, sg))

	require.NoError(t, db.ReviewSuggestion(ctx, sg.ID, model.SuggestionAccepted, "implemented", time.Now().UTC()))

	err := db.ReviewSuggestion(ctx, sg.ID, model.SuggestionRejected, "changed mind", time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrBadInput)

	err = db.ReviewSuggestion(ctx, sg.ID, "pending", "", time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrBadInput)
}

func TestEventBatchAndQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	batch := []model.StoredEvent{
		{ID: uuid.NewString(), SessionID: s.SessionID, EventType: model.EventSessionStarted, AgentID: s.AIID, DataJSON: "{}", Timestamp: now.Add(-2 * time.Minute), CreatedAt: now},
		{ID: uuid.NewString(), SessionID: s.SessionID, EventType: model.EventPhaseTransition, AgentID: s.AIID, DataJSON: `{"to":"CHECK"}`, Timestamp: now.Add(-time.Minute), CreatedAt: now},
		{ID: uuid.NewString(), SessionID: s.SessionID, EventType: model.EventPhaseTransition, AgentID: s.AIID, DataJSON: `{"to":"ACT"}`, Timestamp: now, CreatedAt: now},
	}
	require.NoError(t, db.InsertEvents(ctx, batch))

	total, err := db.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	transitions, err := db.QueryEvents(ctx, EventFilter{
		SessionID: s.SessionID,
		EventType: model.EventPhaseTransition,
	})
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, `{"to":"ACT"}`, transitions[0].DataJSON)

	counts, err := db.CountEventsByType(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.EventPhaseTransition])
	assert.Equal(t, 1, counts[model.EventSessionStarted])
}

func TestGetEventsByIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	ev := model.StoredEvent{
		ID: uuid.NewString(), SessionID: s.SessionID,
		EventType: model.EventPageFault, AgentID: s.AIID,
		DataJSON: `{"item":"auth flow"}`, Timestamp: now, CreatedAt: now,
	}
	require.NoError(t, db.InsertEvents(ctx, []model.StoredEvent{ev}))

	got, err := db.GetEventsByIDs(ctx, []string{ev.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.DataJSON, got[ev.ID].DataJSON)

	got, err = db.GetEventsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOutboxRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	ev := model.StoredEvent{
		ID: uuid.NewString(), SessionID: s.SessionID,
		EventType: model.EventGoalCreated, AgentID: s.AIID,
		DataJSON: "{}", Timestamp: now, CreatedAt: now,
	}
	require.NoError(t, db.InsertEvents(ctx, []model.StoredEvent{ev}))
	require.NoError(t, db.EnqueueOutbox(ctx, []string{ev.ID}, now))

	pending, err := db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].Event.ID)

	require.NoError(t, db.DeleteOutbox(ctx, []int64{pending[0].OutboxID}))
	pending, err = db.FetchOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAttentionBudgetUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	b := model.AttentionBudget{
		ID:          uuid.NewString(),
		SessionID:   s.SessionID,
		TotalBudget: 20,
		Allocated:   20,
		Remaining:   20,
		Strategy:    "information_gain",
		Allocations: []model.DomainAllocation{
			{Domain: "auth", Budget: 12, Priority: 0.6},
			{Domain: "storage", Budget: 8, Priority: 0.4},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.SaveAttentionBudget(ctx, b))

	b.Remaining = 15
	b.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, db.SaveAttentionBudget(ctx, b))

	got, err := db.GetAttentionBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Remaining)
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, "auth", got.Allocations[0].Domain)

	latest, err := db.LatestAttentionBudget(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, latest.ID)
}

func TestGroundedBeliefUpsertByKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	b := model.NewGroundedBelief(s.SessionID, s.AIID, model.VectorKnow)
	b.BeliefID = uuid.NewString()
	b.Phase = "noetic"
	b.LastUpdated = now
	require.NoError(t, db.UpsertGroundedBelief(ctx, b))

	b.Mean = 0.72
	b.Variance = 0.04
	b.EvidenceCount = 3
	b.LastUpdated = now.Add(time.Minute)
	require.NoError(t, db.UpsertGroundedBelief(ctx, b))

	got, err := db.GetGroundedBelief(ctx, s.AIID, model.VectorKnow, "noetic")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.72, got.Mean, 1e-9)
	assert.Equal(t, 3, got.EvidenceCount)

	none, err := db.GetGroundedBelief(ctx, s.AIID, model.VectorKnow, "praxic")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRecentTrajectoryOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		gap := 0.3 - 0.05*float64(i)
		require.NoError(t, db.InsertTrajectoryPoint(ctx, model.TrajectoryPoint{
			PointID:      uuid.NewString(),
			SessionID:    s.SessionID,
			AIID:         s.AIID,
			VectorName:   model.VectorKnow,
			SelfAssessed: 0.8,
			Gap:          &gap,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Phase:        "combined",
		}))
	}

	pts, err := db.RecentTrajectory(ctx, s.AIID, model.VectorKnow, 3)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.True(t, pts[0].Timestamp.Before(pts[2].Timestamp))
	assert.InDelta(t, 0.20, *pts[0].Gap, 1e-9)
	assert.InDelta(t, 0.10, *pts[2].Gap, 1e-9)
}

func TestRollupLogsAndAcceptedHashes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSession(t, db)
	now := time.Now().UTC()

	findings := []model.ScoredFinding{
		{FindingText: "JWT validation skips audience check", AgentName: "security", FindingHash: model.ContentHash("JWT validation skips audience check"), Score: 0.61, Novelty: 0.9, DomainRelevance: 0.85, Accepted: true},
		{FindingText: "README outdated", AgentName: "docs", FindingHash: model.ContentHash("README outdated"), Score: 0.12, Novelty: 0.4, DomainRelevance: 0.3, Accepted: false, RejectReason: "below_threshold"},
	}
	require.NoError(t, db.InsertRollupLogs(ctx, s.SessionID, nil, findings, now))

	logs, err := db.ListRollupLogs(ctx, s.SessionID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	accepted, err := db.AcceptedHashes(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, accepted[findings[0].FindingHash])
	assert.False(t, accepted[findings[1].FindingHash])
}
