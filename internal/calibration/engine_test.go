package calibration

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		GroundedObservationVariance: 0.05,
		CalibrationMaxCorrection:    0.2,
		ScopeWeightUnscoped:         0.3,
		TrajectoryLookback:          10,
		GitReadTimeout:              2 * time.Second,
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.DB) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := storage.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(testConfig(), db, logger), db
}

func seedSession(t *testing.T, db *storage.DB, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.CreateSession(context.Background(), model.Session{
		SessionID: id, AIID: "a1", StartTime: now, CreatedAt: now,
	}))
}

func TestGroundVectorsQualityWeighting(t *testing.T) {
	items := []model.EvidenceItem{
		{Source: "tests", MetricName: "pass_rate", NormalizedValue: 1.0,
			Quality: model.QualityObjective, SupportsVectors: []model.VectorName{model.VectorKnow}},
		{Source: "artifacts", MetricName: "guess", NormalizedValue: 0.5,
			Quality: model.QualityInferred, SupportsVectors: []model.VectorName{model.VectorKnow}},
		{Source: "vibes", MetricName: "mood", NormalizedValue: 0.9,
			Quality: model.QualityObjective, SupportsVectors: []model.VectorName{model.VectorEngagement}},
	}

	grounded := GroundVectors(items)

	require.Contains(t, grounded, model.VectorKnow)
	// (1.0×1.0 + 0.5×0.4) / 1.4
	assert.InDelta(t, 1.2/1.4, grounded[model.VectorKnow].Mean, 1e-9)
	assert.InDelta(t, 0.7, grounded[model.VectorKnow].Confidence, 1e-9)
	assert.Equal(t, 2, grounded[model.VectorKnow].Count)

	assert.NotContains(t, grounded, model.VectorEngagement, "ungroundable vectors are skipped")
}

func TestUpdateBeliefPrecisionWeighted(t *testing.T) {
	e, _ := newTestEngine(t)
	prior := model.NewGroundedBelief("s1", "a1", model.VectorKnow)

	post := e.UpdateBelief(prior, Observation{Mean: 0.9, Confidence: 1.0, Count: 2}, "tests")
	// obs_var = 0.05; mean = (0.25×0.9 + 0.05×0.5) / 0.30
	assert.InDelta(t, 0.25/0.30, post.Mean, 1e-9)
	assert.InDelta(t, 1.0/24.0, post.Variance, 1e-9)
	assert.Equal(t, 2, post.EvidenceCount)
	assert.Equal(t, "tests", post.LastObservationSource)

	weak := e.UpdateBelief(prior, Observation{Mean: 0.9, Confidence: 0.1, Count: 1}, "guess")
	assert.Less(t, weak.Mean, post.Mean, "low-confidence evidence moves the posterior less")
	assert.Greater(t, weak.Variance, post.Variance)
}

func TestArtifactsCollectorSkipsZeroWeightUnknowns(t *testing.T) {
	_, db := newTestEngine(t)
	ctx := context.Background()
	seedSession(t, db, "s1")
	now := time.Now().UTC()

	// Unscoped unknowns only, with the unscoped weight tuned to zero: the
	// resolution ratio has no denominator and must not be emitted as NaN.
	u := model.Unknown{ID: uuid.NewString(), SessionID: "s1", Unknown: "token TTL policy", CreatedTimestamp: now}
	require.NoError(t, db.InsertUnknown(ctx, u))
	require.NoError(t, db.ResolveUnknown(ctx, u.ID, "read config"))
	require.NoError(t, db.InsertUnknown(ctx, model.Unknown{
		ID: uuid.NewString(), SessionID: "s1", Unknown: "refresh rotation", CreatedTimestamp: now,
	}))

	c := &ArtifactsCollector{DB: db, ScopeWeightUnscoped: 0}
	items, err := c.Collect(ctx, Scope{SessionID: "s1", AIID: "a1", SessionStart: now})
	require.NoError(t, err)
	for _, item := range items {
		assert.NotEqual(t, "unknown_resolution_ratio", item.MetricName)
		assert.False(t, math.IsNaN(item.NormalizedValue))
	}
}

func TestInvestigationEfficiency(t *testing.T) {
	assert.InDelta(t, 1.0, investigationEfficiency(1), 1e-9)
	assert.InDelta(t, 0.5, investigationEfficiency(3), 1e-9)
	assert.InDelta(t, 0.0, investigationEfficiency(5), 1e-9)
	assert.InDelta(t, 0.0, investigationEfficiency(8), 1e-9)
}

func TestRegressionSlope(t *testing.T) {
	assert.InDelta(t, 0.1, regressionSlope([]float64{0.1, 0.2, 0.3}), 1e-9)
	assert.InDelta(t, -0.1, regressionSlope([]float64{0.3, 0.2, 0.1}), 1e-9)
	assert.Equal(t, 0.0, regressionSlope([]float64{0.5}))
	assert.Equal(t, 0.0, regressionSlope(nil))
}

func TestNoeticRunGroundsInvestigationEvidence(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	seedSession(t, db, "s1")
	now := time.Now().UTC()

	require.NoError(t, db.InsertFinding(ctx, model.Finding{
		ID: uuid.NewString(), SessionID: "s1", Finding: "OAuth2 module lacks PKCE",
		Impact: 0.8, CreatedTimestamp: now,
	}))
	u := model.Unknown{ID: uuid.NewString(), SessionID: "s1", Unknown: "token TTL policy", CreatedTimestamp: now}
	require.NoError(t, db.InsertUnknown(ctx, u))
	require.NoError(t, db.ResolveUnknown(ctx, u.ID, "read config"))
	require.NoError(t, db.InsertUnknown(ctx, model.Unknown{
		ID: uuid.NewString(), SessionID: "s1", Unknown: "refresh rotation", CreatedTimestamp: now,
	}))
	require.NoError(t, db.InsertReflex(ctx, &model.Reflex{
		SessionID: "s1", Phase: model.PhaseCheck, Round: 1, VectorsJSON: "{}",
		Decision: model.DecisionProceed, Reasoning: "clear enough", Timestamp: now,
		TransactionID: uuid.NewString(),
	}))

	self := model.DefaultVectors()
	require.NoError(t, self.Set(model.VectorKnow, 0.9))

	res, err := e.Run(ctx, Scope{SessionID: "s1", AIID: "a1", SessionStart: now}, PassNoetic, self)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"artifacts", "sentinel", "noetic"}, res.SourcesAvailable)
	require.Contains(t, res.Grounded, model.VectorKnow)
	assert.Greater(t, res.EvidenceCount, 3)
	assert.Greater(t, res.Coverage, 0.0)
	assert.InDelta(t, 0.9-res.Grounded[model.VectorKnow].Mean, res.Divergence[model.VectorKnow], 1e-9)

	belief, err := db.GetGroundedBelief(ctx, "a1", model.VectorKnow, string(PassNoetic))
	require.NoError(t, err)
	require.NotNil(t, belief)
	assert.Equal(t, "s1", belief.SessionID)
	require.NotNil(t, belief.Divergence)

	points, err := db.RecentTrajectory(ctx, "a1", model.VectorKnow, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, points[0].Gap)
}

func TestRunCapsCorrection(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	seedSession(t, db, "s1")
	now := time.Now().UTC()

	// Every know-supporting signal bottoms out at zero: unresolved unknowns,
	// a dead end with no findings, and an investigate-only CHECK history.
	require.NoError(t, db.InsertUnknown(ctx, model.Unknown{
		ID: uuid.NewString(), SessionID: "s1", Unknown: "everything", CreatedTimestamp: now,
	}))
	require.NoError(t, db.InsertDeadEnd(ctx, model.DeadEnd{
		ID: uuid.NewString(), SessionID: "s1", Approach: "grep for config",
		WhyFailed: "config is generated", CreatedTimestamp: now,
	}))
	require.NoError(t, db.InsertReflex(ctx, &model.Reflex{
		SessionID: "s1", Phase: model.PhaseCheck, Round: 1, VectorsJSON: "{}",
		Decision: model.DecisionInvestigate, Reasoning: "no idea yet", Timestamp: now,
		TransactionID: uuid.NewString(),
	}))

	self := model.DefaultVectors()
	require.NoError(t, self.Set(model.VectorKnow, 0.9))

	res, err := e.Run(ctx, Scope{SessionID: "s1", AIID: "a1", SessionStart: now}, PassNoetic, self)
	require.NoError(t, err)

	require.Contains(t, res.Grounded, model.VectorKnow)
	assert.InDelta(t, 0.0, res.Grounded[model.VectorKnow].Mean, 1e-9)
	assert.InDelta(t, 0.9, res.Divergence[model.VectorKnow], 1e-9)
	assert.InDelta(t, 0.7, res.Corrected.Get(model.VectorKnow), 1e-9,
		"correction bounded at ±0.2 despite a 0.9 gap")
}

func TestPhaseAwareRunsBothPasses(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	seedSession(t, db, "s1")
	now := time.Now().UTC()

	require.NoError(t, db.InsertFinding(ctx, model.Finding{
		ID: uuid.NewString(), SessionID: "s1", Finding: "cache never expires",
		Impact: 0.6, CreatedTimestamp: now,
	}))

	check := model.DefaultVectors()
	post := model.DefaultVectors()
	require.NoError(t, post.Set(model.VectorKnow, 0.8))

	noetic, praxic, err := e.RunPhaseAware(ctx,
		Scope{SessionID: "s1", AIID: "a1", SessionStart: now}, &check, &post)
	require.NoError(t, err)
	require.NotNil(t, noetic)
	require.NotNil(t, praxic)
	assert.Equal(t, PassNoetic, noetic.Pass)
	assert.Equal(t, PassPraxic, praxic.Pass)
}

func TestTrajectoryDirection(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	seedSession(t, db, "s1")

	insert := func(vector model.VectorName, gaps []float64) {
		base := time.Now().UTC().Add(-time.Hour)
		for i, g := range gaps {
			gap := g
			grounded := 0.5
			require.NoError(t, db.InsertTrajectoryPoint(ctx, model.TrajectoryPoint{
				PointID: uuid.NewString(), SessionID: "s1", AIID: "a1",
				VectorName: vector, SelfAssessed: 0.5 + g, Grounded: &grounded,
				Gap: &gap, Timestamp: base.Add(time.Duration(i) * time.Minute),
				Phase: string(PassPraxic),
			}))
		}
	}

	insert(model.VectorKnow, []float64{0.5, 0.4, 0.3, 0.2, 0.1})
	dir, err := e.TrajectoryDirection(ctx, "a1", model.VectorKnow)
	require.NoError(t, err)
	assert.Equal(t, model.TrajectoryClosing, dir)

	insert(model.VectorContext, []float64{0.1, 0.2, 0.3, 0.4, 0.5})
	dir, err = e.TrajectoryDirection(ctx, "a1", model.VectorContext)
	require.NoError(t, err)
	assert.Equal(t, model.TrajectoryWidening, dir)

	insert(model.VectorDo, []float64{0.2, 0.2, 0.2})
	dir, err = e.TrajectoryDirection(ctx, "a1", model.VectorDo)
	require.NoError(t, err)
	assert.Equal(t, model.TrajectoryStable, dir)
}
