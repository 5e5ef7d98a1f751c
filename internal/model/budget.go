package model

import "time"

// DomainAllocation is the budget slice granted to one investigation domain.
type DomainAllocation struct {
	Domain        string  `json:"domain"`
	Budget        int     `json:"budget"`
	Priority      float64 `json:"priority"`
	ExpectedGain  float64 `json:"expected_gain"`
	PriorFindings int     `json:"prior_findings"`
	DeadEnds      int     `json:"dead_ends"`
}

// AttentionBudget is an integer findings quota distributed across domains.
// Invariants: every allocation budget ≥ 1 and the budgets sum to TotalBudget
// (when any allocations exist).
type AttentionBudget struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	TotalBudget int                `json:"total_budget"`
	Allocated   int                `json:"allocated"`
	Remaining   int                `json:"remaining"`
	Strategy    string             `json:"strategy"`
	Allocations []DomainAllocation `json:"allocations"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Consume decrements the remaining budget by count. Returns false (without
// mutating) when fewer than count findings remain.
func (b *AttentionBudget) Consume(count int) bool {
	if count < 0 || b.Remaining < count {
		return false
	}
	b.Remaining -= count
	return true
}

// ScoredFinding is one sub-agent finding after the rollup gate's scoring pass.
type ScoredFinding struct {
	FindingText     string  `json:"finding_text"`
	AgentName       string  `json:"agent_name"`
	Domain          string  `json:"domain"`
	Confidence      float64 `json:"confidence"`
	Novelty         float64 `json:"novelty"`
	DomainRelevance float64 `json:"domain_relevance"`
	Score           float64 `json:"score"`
	FindingHash     string  `json:"finding_hash"`
	Accepted        bool    `json:"accepted"`
	RejectReason    string  `json:"reject_reason,omitempty"`
}
