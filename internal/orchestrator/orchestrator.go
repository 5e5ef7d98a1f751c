// Package orchestrator plans and regulates parallel investigation agents:
// domain detection, persona assignment, budgeted rounds, and
// confidence-weighted synthesis of agent results.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/empirica-ai/empirica/internal/attention"
	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/rollup"
	"github.com/empirica-ai/empirica/internal/storage"
)

// Assignment is one sub-agent's slice of the task.
type Assignment struct {
	AgentName string `json:"agent_name"`
	Persona   string `json:"persona"`
	Domain    string `json:"domain"`
	SubTask   string `json:"sub_task"`
	Budget    int    `json:"budget"`
}

// OrchestrationPlan is the output of Plan.
type OrchestrationPlan struct {
	Task        string                `json:"task"`
	Assignments []Assignment          `json:"assignments"`
	Budget      model.AttentionBudget `json:"budget"`
}

// AgentResult is what one sub-agent returns from a round.
type AgentResult struct {
	AgentName  string          `json:"agent_name"`
	Domain     string          `json:"domain"`
	Findings   []string        `json:"findings"`
	Confidence float64         `json:"confidence"`
	Vectors    model.VectorSet `json:"vectors"`
	Err        error           `json:"-"`
}

// Runner executes one assignment. Implementations wrap whatever actually does
// the investigation (a subprocess, an API call, a human).
type Runner interface {
	Investigate(ctx context.Context, a Assignment) (AgentResult, error)
}

// Action is the regulator's verdict after a round.
type Action string

const (
	ActionContinue  Action = "continue"
	ActionStop      Action = "stop"
	ActionSpawnMore Action = "spawn_more"
)

// RegulationDecision is the outcome of Regulate.
type RegulationDecision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	Round  int    `json:"round"`
}

// AggregatedSynthesis merges agent results into one view.
type AggregatedSynthesis struct {
	Vectors          model.VectorSet `json:"vectors"`
	Findings         []string        `json:"findings"`
	ConsensusDomains []string        `json:"consensus_domains"`
	ConflictDomains  []string        `json:"conflict_domains"`
	AgentCount       int             `json:"agent_count"`
}

// Orchestrator coordinates parallel investigation.
type Orchestrator struct {
	cfg       config.Config
	db        *storage.DB
	allocator *attention.Allocator
	logger    *slog.Logger

	roundsWithoutNovel int
}

// New creates an orchestrator. db may be nil; prior findings and dead ends
// then default to zero.
func New(cfg config.Config, db *storage.DB, allocator *attention.Allocator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		db:        db,
		allocator: allocator,
		logger:    logger,
	}
}

// domainSignals maps investigation domains to the keywords that suggest them.
var domainSignals = map[string][]string{
	"security":     {"security", "vulnerability", "auth", "token", "crypto", "exploit", "injection"},
	"performance":  {"performance", "latency", "slow", "throughput", "memory", "profil", "optimiz"},
	"architecture": {"architecture", "design", "structure", "refactor", "coupling", "dependency"},
	"testing":      {"test", "coverage", "flaky", "regression"},
	"storage":      {"database", "storage", "schema", "migration", "query", "index"},
	"concurrency":  {"concurrency", "race", "deadlock", "goroutine", "lock", "parallel"},
	"docs":         {"documentation", "docs", "readme", "comment"},
}

var personas = map[string]string{
	"security":     "security-auditor",
	"performance":  "performance-analyst",
	"architecture": "systems-architect",
	"testing":      "test-engineer",
	"storage":      "data-engineer",
	"concurrency":  "concurrency-reviewer",
	"docs":         "tech-writer",
	"general":      "generalist-investigator",
}

// DetectDomains scans task text for domain keywords, returning matched
// domains in deterministic order, or ["general"] when nothing matches.
func DetectDomains(task string) []string {
	lower := strings.ToLower(task)
	var matched []string
	for domain, signals := range domainSignals {
		for _, s := range signals {
			if strings.Contains(lower, s) {
				matched = append(matched, domain)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"general"}
	}
	sort.Strings(matched)
	return matched
}

// Plan builds the round plan: detect domains, cap agents, query history,
// allocate the attention budget, and assign personas.
func (o *Orchestrator) Plan(ctx context.Context, sessionID, task string, domains []string, maxAgents int, vectors *model.VectorSet) (OrchestrationPlan, error) {
	if task == "" {
		return OrchestrationPlan{}, fmt.Errorf("orchestrator: empty task: %w", model.ErrBadInput)
	}
	if len(domains) == 0 {
		domains = DetectDomains(task)
	}
	if maxAgents <= 0 {
		maxAgents = o.cfg.MaxAgents
	}
	if len(domains) > maxAgents {
		domains = domains[:maxAgents]
	}

	priorFindings := map[string]int{}
	deadEnds := map[string]int{}
	if o.db != nil {
		for _, d := range domains {
			found, err := o.db.FindingsBySubject(ctx, d, 50)
			if err != nil {
				return OrchestrationPlan{}, fmt.Errorf("orchestrator: query prior findings: %w", err)
			}
			priorFindings[d] = len(found)

			n, err := o.db.CountDeadEndsMatching(ctx, d)
			if err != nil {
				return OrchestrationPlan{}, fmt.Errorf("orchestrator: query dead ends: %w", err)
			}
			deadEnds[d] = n
		}
	}

	budget := o.allocator.CreateBudget(attention.Request{
		SessionID:     sessionID,
		Domains:       domains,
		Vectors:       vectors,
		PriorFindings: priorFindings,
		DeadEnds:      deadEnds,
	})

	plan := OrchestrationPlan{Task: task, Budget: budget}
	for _, alloc := range budget.Allocations {
		persona := personas[alloc.Domain]
		if persona == "" {
			persona = personas["general"]
		}
		plan.Assignments = append(plan.Assignments, Assignment{
			AgentName: fmt.Sprintf("%s-agent", alloc.Domain),
			Persona:   persona,
			Domain:    alloc.Domain,
			SubTask: fmt.Sprintf("Investigate the %s aspects of: %s. Report up to %d findings with confidence.",
				alloc.Domain, task, alloc.Budget),
			Budget: alloc.Budget,
		})
	}
	return plan, nil
}

// RunRound executes all assignments in parallel, bounded by the round
// timeout. Individual agent failures are captured per-result; the round only
// fails if the timeout elapses before any result arrives.
func (o *Orchestrator) RunRound(ctx context.Context, runner Runner, plan OrchestrationPlan) ([]AgentResult, error) {
	timeout := o.cfg.RoundTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]AgentResult, len(plan.Assignments))
	g, gctx := errgroup.WithContext(roundCtx)
	for i, a := range plan.Assignments {
		g.Go(func() error {
			res, err := runner.Investigate(gctx, a)
			if err != nil {
				o.logger.Warn("agent failed", "agent", a.AgentName, "error", err)
				results[i] = AgentResult{AgentName: a.AgentName, Domain: a.Domain, Err: err}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("orchestrator: round failed: %w", err)
	}
	if roundCtx.Err() != nil {
		return results, fmt.Errorf("orchestrator: round: %w", model.ErrTimeout)
	}
	return results, nil
}

// Regulate decides whether investigation continues after a round.
func (o *Orchestrator) Regulate(res rollup.Result, round int, vectors *model.VectorSet) RegulationDecision {
	if res.BudgetRemaining <= 0 {
		return RegulationDecision{Action: ActionStop, Reason: "budget exhausted", Round: round}
	}

	novel := 0
	for _, f := range res.Accepted {
		if f.Novelty > 0.3 {
			novel++
		}
	}
	if novel == 0 {
		o.roundsWithoutNovel++
	} else {
		o.roundsWithoutNovel = 0
	}
	if o.roundsWithoutNovel >= 2 {
		return RegulationDecision{Action: ActionStop, Reason: "stale", Round: round}
	}

	v := model.DefaultVectors()
	if vectors != nil {
		v = *vectors
	}
	gain := o.allocator.ExpectedGain(v, len(res.Accepted), 0)
	if gain < 0.1 {
		return RegulationDecision{Action: ActionStop, Reason: "low gain", Round: round}
	}

	if novel > 3 {
		return RegulationDecision{Action: ActionSpawnMore, Reason: "high novelty", Round: round}
	}
	return RegulationDecision{Action: ActionContinue, Reason: "gain remains", Round: round}
}

// Aggregate merges agent results: confidence-weighted vector synthesis,
// first-occurrence finding dedupe, consensus and conflict domains.
func (o *Orchestrator) Aggregate(results []AgentResult) AggregatedSynthesis {
	syn := AggregatedSynthesis{}

	totalConf := 0.0
	weighted := map[model.VectorName]float64{}
	seen := map[string]bool{}
	findingsByDomain := map[string]int{}
	assignedDomains := map[string]bool{}

	for _, r := range results {
		if r.Domain != "" {
			assignedDomains[r.Domain] = true
		}
		if r.Err != nil {
			continue
		}
		syn.AgentCount++
		conf := r.Confidence
		if conf <= 0 {
			conf = 0.5
		}
		totalConf += conf
		for _, name := range model.VectorNames {
			weighted[name] += r.Vectors.Get(name) * conf
		}
		for _, f := range r.Findings {
			findingsByDomain[r.Domain]++
			if seen[f] {
				continue
			}
			seen[f] = true
			syn.Findings = append(syn.Findings, f)
		}
	}

	syn.Vectors = model.DefaultVectors()
	if totalConf > 0 {
		for _, name := range model.VectorNames {
			_ = syn.Vectors.Set(name, weighted[name]/totalConf)
		}
	}

	// Consensus requires at least two agents contributing findings to the
	// same domain; a domain that was assigned but produced nothing is a
	// conflict.
	agentsPerDomain := map[string]int{}
	for _, r := range results {
		if r.Err == nil && len(r.Findings) > 0 {
			agentsPerDomain[r.Domain]++
		}
	}
	for d := range assignedDomains {
		if agentsPerDomain[d] >= 2 {
			syn.ConsensusDomains = append(syn.ConsensusDomains, d)
		}
		if findingsByDomain[d] == 0 {
			syn.ConflictDomains = append(syn.ConflictDomains, d)
		}
	}
	sort.Strings(syn.ConsensusDomains)
	sort.Strings(syn.ConflictDomains)
	return syn
}
