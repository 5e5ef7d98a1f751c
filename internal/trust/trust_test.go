package trust

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/calibration"
	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
	"github.com/empirica-ai/empirica/internal/testutil"
)

func newTestSentinel(t *testing.T) (*Sentinel, *storage.DB) {
	t.Helper()
	logger := testutil.TestLogger()
	db := testutil.NewTestDB(t)
	engine := calibration.New(config.Config{TrajectoryLookback: 10}, db, logger)
	return New(db, engine, logger), db
}

func seedSession(t *testing.T, db *storage.DB, id string) {
	t.Helper()
	testutil.SeedSession(t, db, id, "a1")
}

func addCheck(t *testing.T, db *storage.DB, session string, round int, decision model.Decision) {
	t.Helper()
	require.NoError(t, db.InsertReflex(context.Background(), &model.Reflex{
		SessionID: session, Phase: model.PhaseCheck, Round: round, VectorsJSON: "{}",
		Decision: decision, Reasoning: "r", Timestamp: time.Now().UTC(),
		TransactionID: uuid.NewString(),
	}))
}

func TestAssessGrantsAutonomyOnCleanRecord(t *testing.T) {
	s, db := newTestSentinel(t)
	seedSession(t, db, "s1")
	addCheck(t, db, "s1", 1, model.DecisionProceed)
	addCheck(t, db, "s1", 2, model.DecisionCaveat)

	a, err := s.Assess(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, LevelAutonomous, a.Level)
	assert.InDelta(t, 1.0, a.ProceedRatio, 1e-9)
}

func TestAssessSupervisesOnMistakes(t *testing.T) {
	s, db := newTestSentinel(t)
	seedSession(t, db, "s1")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertMistake(ctx, model.Mistake{
			ID: uuid.NewString(), SessionID: "s1", Mistake: "wrong assumption",
			WhyWrong: "did not verify", CreatedTimestamp: time.Now().UTC(),
		}))
	}

	a, err := s.Assess(ctx, "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, a.Level)
	assert.Equal(t, 3, a.MistakeCount)
}

func TestAssessSupervisesOnLowProceedRatio(t *testing.T) {
	s, db := newTestSentinel(t)
	seedSession(t, db, "s1")
	addCheck(t, db, "s1", 1, model.DecisionInvestigate)
	addCheck(t, db, "s1", 2, model.DecisionInvestigate)
	addCheck(t, db, "s1", 3, model.DecisionInvestigate)
	addCheck(t, db, "s1", 4, model.DecisionProceed)

	a, err := s.Assess(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, a.Level)
	assert.InDelta(t, 0.25, a.ProceedRatio, 1e-9)
}

func TestAssessSupervisesOnWideningGap(t *testing.T) {
	s, db := newTestSentinel(t)
	seedSession(t, db, "s1")
	addCheck(t, db, "s1", 1, model.DecisionProceed)

	base := time.Now().UTC().Add(-time.Hour)
	for i, g := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		gap := g
		require.NoError(t, db.InsertTrajectoryPoint(context.Background(), model.TrajectoryPoint{
			PointID: uuid.NewString(), SessionID: "s1", AIID: "a1",
			VectorName: model.VectorKnow, SelfAssessed: 0.8, Gap: &gap,
			Timestamp: base.Add(time.Duration(i) * time.Minute), Phase: "praxic",
		}))
	}

	a, err := s.Assess(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, LevelSupervised, a.Level)
	assert.Equal(t, model.TrajectoryWidening, a.GapTrajectory)
}

func TestAssessDefaultsToGuided(t *testing.T) {
	s, db := newTestSentinel(t)
	seedSession(t, db, "s1")

	a, err := s.Assess(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, LevelGuided, a.Level)
}

func TestGateAction(t *testing.T) {
	allowed, _ := GateAction(Assessment{Level: LevelAutonomous}, 0.95)
	assert.True(t, allowed)

	allowed, _ = GateAction(Assessment{Level: LevelGuided}, 0.5)
	assert.True(t, allowed)
	allowed, reason := GateAction(Assessment{Level: LevelGuided}, 0.9)
	assert.False(t, allowed)
	assert.Contains(t, reason, "autonomous")

	allowed, _ = GateAction(Assessment{Level: LevelSupervised}, 0.2)
	assert.True(t, allowed)
	allowed, _ = GateAction(Assessment{Level: LevelSupervised}, 0.5)
	assert.False(t, allowed)
}
