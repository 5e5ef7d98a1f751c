// Package attention allocates an integer findings budget across
// investigation domains by expected information gain: Shannon entropy of
// uncertainty, discounted by existing knowledge, diminishing returns on prior
// findings, and dead-end penalties.
package attention

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
)

// Allocator computes attention budgets.
type Allocator struct {
	defaultTotal    int
	diminishingRate float64
	deadEndPenalty  float64
	now             func() time.Time
}

// New creates an allocator from the kernel configuration.
func New(cfg config.Config) *Allocator {
	return &Allocator{
		defaultTotal:    cfg.AttentionDefaultTotal,
		diminishingRate: cfg.AttentionDiminishingRate,
		deadEndPenalty:  cfg.AttentionDeadEndPenalty,
		now:             time.Now,
	}
}

// Request describes one CreateBudget call. Vectors, PriorFindings, DeadEnds,
// and Total are optional.
type Request struct {
	SessionID     string
	Domains       []string
	Vectors       *model.VectorSet
	PriorFindings map[string]int
	DeadEnds      map[string]int
	Total         int
}

// entropy is the binary Shannon entropy H(p) in bits.
func entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// ExpectedGain returns the raw information gain for one domain given the
// current vectors and that domain's investigation history.
func (a *Allocator) ExpectedGain(vectors model.VectorSet, priorFindings, deadEnds int) float64 {
	p := clamp(vectors.Uncertainty, 0.01, 0.99)
	diminish := math.Exp(-a.diminishingRate * float64(priorFindings))
	deadEndFactor := math.Max(0.1, 1-float64(deadEnds)*a.deadEndPenalty)
	return entropy(p) * (1 - vectors.Know) * diminish * deadEndFactor
}

// CreateBudget distributes the total findings budget across domains in
// proportion to expected gain. Every allocation gets at least 1 and the
// allocations always sum to the total. Empty domains produce an empty budget
// with remaining == total.
func (a *Allocator) CreateBudget(req Request) model.AttentionBudget {
	total := req.Total
	if total <= 0 {
		total = a.defaultTotal
	}
	vectors := model.DefaultVectors()
	if req.Vectors != nil {
		vectors = *req.Vectors
	}
	now := a.now().UTC()

	budget := model.AttentionBudget{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		TotalBudget: total,
		Remaining:   total,
		Strategy:    "information_gain",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Domains) == 0 {
		return budget
	}

	gains := make([]float64, len(req.Domains))
	sum := 0.0
	for i, d := range req.Domains {
		gains[i] = a.ExpectedGain(vectors, req.PriorFindings[d], req.DeadEnds[d])
		sum += gains[i]
	}

	allocs := make([]model.DomainAllocation, len(req.Domains))
	allocated := 0
	for i, d := range req.Domains {
		share := 1.0 / float64(len(req.Domains))
		if sum > 0 {
			share = gains[i] / sum
		}
		b := int(math.Round(share * float64(total)))
		if b < 1 {
			b = 1
		}
		allocs[i] = model.DomainAllocation{
			Domain:        d,
			Budget:        b,
			Priority:      share,
			ExpectedGain:  gains[i],
			PriorFindings: req.PriorFindings[d],
			DeadEnds:      req.DeadEnds[d],
		}
		allocated += b
	}

	rebalance(allocs, allocated, total)

	budget.Allocations = allocs
	budget.Allocated = total
	return budget
}

// rebalance adjusts integer allocations so they sum exactly to total while
// keeping every allocation ≥ 1. Excess is taken from the lowest-priority
// domains first; shortfall goes to the highest-priority domain.
func rebalance(allocs []model.DomainAllocation, allocated, total int) {
	if allocated == total || len(allocs) == 0 {
		return
	}

	order := make([]int, len(allocs))
	for i := range order {
		order[i] = i
	}

	if allocated > total {
		// Ascending by priority: shrink the least promising domains first.
		sort.Slice(order, func(i, j int) bool {
			return allocs[order[i]].Priority < allocs[order[j]].Priority
		})
		excess := allocated - total
		for excess > 0 {
			reduced := false
			for _, idx := range order {
				if excess == 0 {
					break
				}
				if allocs[idx].Budget > 1 {
					allocs[idx].Budget--
					excess--
					reduced = true
				}
			}
			if !reduced {
				break
			}
		}
		return
	}

	// Shortfall: give everything to the most promising domain.
	best := 0
	for i := range allocs {
		if allocs[i].Priority > allocs[best].Priority {
			best = i
		}
	}
	allocs[best].Budget += total - allocated
}
