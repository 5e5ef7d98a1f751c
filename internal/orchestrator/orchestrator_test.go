package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/attention"
	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/rollup"
)

func newTestOrchestrator() *Orchestrator {
	cfg := config.Config{
		MaxAgents:                5,
		RoundTimeout:             5 * time.Second,
		AttentionDefaultTotal:    20,
		AttentionDiminishingRate: 0.3,
		AttentionDeadEndPenalty:  0.5,
	}
	return New(cfg, nil, attention.New(cfg), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func vectorsWith(know, uncertainty float64) *model.VectorSet {
	v := model.DefaultVectors()
	_ = v.Set(model.VectorKnow, know)
	_ = v.Set(model.VectorUncertainty, uncertainty)
	return &v
}

func TestDetectDomains(t *testing.T) {
	assert.Equal(t, []string{"performance", "security"},
		DetectDomains("review the authentication latency problems"))
	assert.Equal(t, []string{"general"}, DetectDomains("summarize meeting follow-ups"))
	assert.Equal(t, []string{"concurrency"}, DetectDomains("possible deadlock on shutdown"))
}

func TestPlanAssignsPersonasAndBudgets(t *testing.T) {
	o := newTestOrchestrator()

	plan, err := o.Plan(context.Background(), "s1",
		"audit token handling and request latency", nil, 0, vectorsWith(0.4, 0.7))
	require.NoError(t, err)

	require.Len(t, plan.Assignments, 2)
	byDomain := map[string]Assignment{}
	sum := 0
	for _, a := range plan.Assignments {
		byDomain[a.Domain] = a
		sum += a.Budget
		assert.GreaterOrEqual(t, a.Budget, 1)
		assert.Contains(t, a.SubTask, a.Domain)
	}
	assert.Equal(t, plan.Budget.TotalBudget, sum)
	assert.Equal(t, "security-auditor", byDomain["security"].Persona)
	assert.Equal(t, "performance-analyst", byDomain["performance"].Persona)
}

func TestPlanCapsAgents(t *testing.T) {
	o := newTestOrchestrator()

	plan, err := o.Plan(context.Background(), "s1", "task",
		[]string{"a", "b", "c", "d"}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Assignments, 2)
}

func TestPlanRejectsEmptyTask(t *testing.T) {
	o := newTestOrchestrator()
	_, err := o.Plan(context.Background(), "s1", "", nil, 0, nil)
	assert.ErrorIs(t, err, model.ErrBadInput)
}

type scriptedRunner struct {
	results map[string]AgentResult
	errs    map[string]error
}

func (r *scriptedRunner) Investigate(_ context.Context, a Assignment) (AgentResult, error) {
	if err := r.errs[a.Domain]; err != nil {
		return AgentResult{}, err
	}
	return r.results[a.Domain], nil
}

func TestRunRoundIsolatesAgentFailures(t *testing.T) {
	o := newTestOrchestrator()
	plan := OrchestrationPlan{
		Task: "t",
		Assignments: []Assignment{
			{AgentName: "security-agent", Domain: "security"},
			{AgentName: "performance-agent", Domain: "performance"},
		},
	}
	runner := &scriptedRunner{
		results: map[string]AgentResult{
			"security": {AgentName: "security-agent", Domain: "security",
				Findings: []string{"found"}, Confidence: 0.8, Vectors: model.DefaultVectors()},
		},
		errs: map[string]error{"performance": errors.New("agent crashed")},
	}

	results, err := o.RunRound(context.Background(), runner, plan)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []string{"found"}, results[0].Findings)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "performance-agent", results[1].AgentName)
}

func accepted(novelties ...float64) []model.ScoredFinding {
	out := make([]model.ScoredFinding, len(novelties))
	for i, n := range novelties {
		out[i] = model.ScoredFinding{Novelty: n, Accepted: true}
	}
	return out
}

func TestRegulateStopsOnExhaustedBudget(t *testing.T) {
	o := newTestOrchestrator()
	d := o.Regulate(rollup.Result{BudgetRemaining: 0}, 1, nil)
	assert.Equal(t, ActionStop, d.Action)
	assert.Equal(t, "budget exhausted", d.Reason)
}

func TestRegulateStopsWhenStale(t *testing.T) {
	o := newTestOrchestrator()

	// Low-novelty accepted findings do not count as novel.
	first := o.Regulate(rollup.Result{BudgetRemaining: 10, Accepted: accepted(0.2)}, 1, vectorsWith(0.4, 0.7))
	assert.NotEqual(t, ActionStop, first.Action)

	second := o.Regulate(rollup.Result{BudgetRemaining: 10, Accepted: accepted(0.1)}, 2, vectorsWith(0.4, 0.7))
	assert.Equal(t, ActionStop, second.Action)
	assert.Equal(t, "stale", second.Reason)
}

func TestRegulateStopsOnLowGain(t *testing.T) {
	o := newTestOrchestrator()
	d := o.Regulate(rollup.Result{BudgetRemaining: 10, Accepted: accepted(0.9)}, 1, vectorsWith(0.95, 0.5))
	assert.Equal(t, ActionStop, d.Action)
	assert.Equal(t, "low gain", d.Reason)
}

func TestRegulateSpawnsMoreOnHighNovelty(t *testing.T) {
	o := newTestOrchestrator()
	d := o.Regulate(rollup.Result{BudgetRemaining: 10, Accepted: accepted(0.9, 0.8, 0.7, 0.6)}, 1, vectorsWith(0.5, 0.5))
	assert.Equal(t, ActionSpawnMore, d.Action)
}

func TestRegulateContinuesWhileGainRemains(t *testing.T) {
	o := newTestOrchestrator()
	d := o.Regulate(rollup.Result{BudgetRemaining: 10, Accepted: accepted(0.9)}, 1, vectorsWith(0.5, 0.5))
	assert.Equal(t, ActionContinue, d.Action)
}

func TestAggregateWeightsVectorsAndDedupesFindings(t *testing.T) {
	o := newTestOrchestrator()

	results := []AgentResult{
		{AgentName: "sec-a", Domain: "security", Confidence: 0.9,
			Findings: []string{"shared finding", "only a"}, Vectors: *vectorsWith(0.8, 0.5)},
		{AgentName: "sec-b", Domain: "security", Confidence: 0.3,
			Findings: []string{"shared finding"}, Vectors: *vectorsWith(0.4, 0.5)},
		{AgentName: "perf", Domain: "performance", Confidence: 0.6,
			Vectors: *vectorsWith(0.5, 0.5)},
		{AgentName: "broken", Domain: "storage", Err: errors.New("crashed")},
	}

	syn := o.Aggregate(results)

	assert.Equal(t, 3, syn.AgentCount)
	assert.Equal(t, []string{"shared finding", "only a"}, syn.Findings,
		"exact duplicates collapse to first occurrence")

	// know = (0.8×0.9 + 0.4×0.3 + 0.5×0.6) / 1.8
	assert.InDelta(t, 1.14/1.8, syn.Vectors.Know, 1e-9)

	assert.Equal(t, []string{"security"}, syn.ConsensusDomains)
	assert.ElementsMatch(t, []string{"performance", "storage"}, syn.ConflictDomains)
}

func TestAggregateEmptyResults(t *testing.T) {
	o := newTestOrchestrator()
	syn := o.Aggregate(nil)
	assert.Zero(t, syn.AgentCount)
	assert.Empty(t, syn.Findings)
	assert.InDelta(t, 0.5, syn.Vectors.Know, 1e-9, "defaults when nothing aggregated")
}
