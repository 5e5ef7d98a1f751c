package attention

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
)

func newTestAllocator() *Allocator {
	return New(config.Config{
		AttentionDefaultTotal:    20,
		AttentionDiminishingRate: 0.3,
		AttentionDeadEndPenalty:  0.5,
	})
}

func vectors(know, uncertainty float64) *model.VectorSet {
	v := model.DefaultVectors()
	_ = v.Set(model.VectorKnow, know)
	_ = v.Set(model.VectorUncertainty, uncertainty)
	return &v
}

func TestEntropyPeaksAtHalf(t *testing.T) {
	assert.InDelta(t, 1.0, entropy(0.5), 1e-9)
	assert.Greater(t, entropy(0.5), entropy(0.1))
	assert.Greater(t, entropy(0.5), entropy(0.9))
	assert.Equal(t, 0.0, entropy(0))
	assert.Equal(t, 0.0, entropy(1))
}

func TestExpectedGainDiscounts(t *testing.T) {
	a := newTestAllocator()
	v := *vectors(0.4, 0.7)

	fresh := a.ExpectedGain(v, 0, 0)
	investigated := a.ExpectedGain(v, 3, 0)
	blocked := a.ExpectedGain(v, 0, 2)

	assert.Greater(t, fresh, investigated, "prior findings diminish gain")
	assert.Greater(t, fresh, blocked, "dead ends penalize gain")

	// diminish(3) = exp(-0.9)
	assert.InDelta(t, fresh*math.Exp(-0.9), investigated, 1e-9)
	// dead_end_factor floors at 0.1: 1 - 2×0.5 = 0 → 0.1
	assert.InDelta(t, fresh*0.1, blocked, 1e-9)
}

func TestCreateBudgetPenalizesWorkedDomains(t *testing.T) {
	a := newTestAllocator()

	b := a.CreateBudget(Request{
		SessionID:     "s1",
		Domains:       []string{"security", "performance"},
		Vectors:       vectors(0.4, 0.7),
		PriorFindings: map[string]int{"security": 3, "performance": 0},
		DeadEnds:      map[string]int{"security": 2, "performance": 0},
		Total:         10,
	})

	require.Len(t, b.Allocations, 2)
	byDomain := map[string]model.DomainAllocation{}
	sum := 0
	for _, al := range b.Allocations {
		byDomain[al.Domain] = al
		sum += al.Budget
		assert.GreaterOrEqual(t, al.Budget, 1)
	}
	assert.Equal(t, 10, sum)
	assert.Greater(t, byDomain["performance"].Budget, byDomain["security"].Budget)
	assert.Equal(t, 10, b.Remaining)
	assert.Equal(t, 10, b.Allocated)
}

func TestCreateBudgetEmptyDomains(t *testing.T) {
	a := newTestAllocator()
	b := a.CreateBudget(Request{SessionID: "s1", Total: 15})
	assert.Empty(t, b.Allocations)
	assert.Equal(t, 15, b.Remaining)
	assert.Equal(t, 15, b.TotalBudget)
}

func TestCreateBudgetDefaultsTotal(t *testing.T) {
	a := newTestAllocator()
	b := a.CreateBudget(Request{SessionID: "s1", Domains: []string{"general"}})
	assert.Equal(t, 20, b.TotalBudget)
	require.Len(t, b.Allocations, 1)
	assert.Equal(t, 20, b.Allocations[0].Budget)
}

func TestCreateBudgetSumsExactlyAcrossManyDomains(t *testing.T) {
	a := newTestAllocator()
	b := a.CreateBudget(Request{
		SessionID: "s1",
		Domains:   []string{"a", "b", "c", "d", "e", "f", "g"},
		Vectors:   vectors(0.3, 0.6),
		PriorFindings: map[string]int{
			"a": 5, "b": 1, "c": 0, "d": 8, "e": 2, "f": 0, "g": 3,
		},
		Total: 20,
	})
	sum := 0
	for _, al := range b.Allocations {
		assert.GreaterOrEqual(t, al.Budget, 1)
		sum += al.Budget
	}
	assert.Equal(t, 20, sum)
}

func TestCreateBudgetZeroGainFallsBackToEvenSplit(t *testing.T) {
	a := newTestAllocator()
	// know = 1.0 makes every gain zero; allocations split evenly.
	b := a.CreateBudget(Request{
		SessionID: "s1",
		Domains:   []string{"x", "y"},
		Vectors:   vectors(1.0, 0.5),
		Total:     10,
	})
	require.Len(t, b.Allocations, 2)
	assert.Equal(t, 5, b.Allocations[0].Budget)
	assert.Equal(t, 5, b.Allocations[1].Budget)
}
