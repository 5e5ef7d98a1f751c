package empirica

import (
	"time"

	"github.com/empirica-ai/empirica/internal/model"
)

// Sentinel errors, re-exported so embedders can test with errors.Is without
// importing internal packages.
var (
	ErrNoSession             = model.ErrNoSession
	ErrPhaseViolation        = model.ErrPhaseViolation
	ErrBudgetExceeded        = model.ErrBudgetExceeded
	ErrTimeout               = model.ErrTimeout
	ErrPersistFailed         = model.ErrPersistFailed
	ErrCapabilityUnavailable = model.ErrCapabilityUnavailable
	ErrBadInput              = model.ErrBadInput
)

// Event is one epistemic event as seen by external hooks.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// CheckResult is the gate decision for one CHECK round.
type CheckResult struct {
	Decision    string   `json:"decision"`
	Confidence  float64  `json:"confidence"`
	Cycle       int      `json:"cycle"`
	NextTargets []string `json:"next_targets,omitempty"`
	Reasoning   string   `json:"reasoning"`
}

// PostflightResult closes a session: vector deltas against PREFLIGHT, the
// calibration verdict, and the grounded calibration score when the praxic
// evidence pass could run.
type PostflightResult struct {
	Delta            map[string]float64 `json:"delta"`
	Verdict          string             `json:"verdict"`
	ConfidenceGap    float64            `json:"confidence_gap"`
	LearningNotes    string             `json:"learning_notes,omitempty"`
	CalibrationScore *float64           `json:"calibration_score,omitempty"`
}

// AgentAssignment is one sub-agent's slice of an investigation.
type AgentAssignment struct {
	AgentName string `json:"agent_name"`
	Persona   string `json:"persona"`
	Domain    string `json:"domain"`
	SubTask   string `json:"sub_task"`
	Budget    int    `json:"budget"`
}

// AgentReport is what an AgentRunner returns for one assignment.
type AgentReport struct {
	Findings   []string           `json:"findings"`
	Confidence float64            `json:"confidence"`
	Vectors    map[string]float64 `json:"vectors,omitempty"`
}

// Investigation is the merged outcome of a parallel investigation.
type Investigation struct {
	Task             string             `json:"task"`
	Rounds           int                `json:"rounds"`
	Findings         []string           `json:"findings"`
	Vectors          map[string]float64 `json:"vectors"`
	ConsensusDomains []string           `json:"consensus_domains,omitempty"`
	ConflictDomains  []string           `json:"conflict_domains,omitempty"`
	BudgetRemaining  int                `json:"budget_remaining"`
	StopReason       string             `json:"stop_reason"`
}

// EventMatch is one semantic search hit: the stored event and its cosine
// similarity to the query.
type EventMatch struct {
	Event Event   `json:"event"`
	Score float32 `json:"score"`
}

// Message is an asynchronous agent-to-agent message carried over git notes.
// Verified is set on inbox reads when the stored Ed25519 signature checks
// out.
type Message struct {
	MessageID  string    `json:"message_id"`
	Channel    string    `json:"channel"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	ThreadID   string    `json:"thread_id,omitempty"`
	TTLSeconds int       `json:"ttl_seconds,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Status     string    `json:"status,omitempty"`
	ReadBy     []string  `json:"read_by,omitempty"`
	Verified   bool      `json:"verified,omitempty"`
}

// Handoff is the structured context a closing session leaves for the next
// one.
type Handoff struct {
	SessionID          string    `json:"session_id"`
	AIID               string    `json:"ai_id"`
	TaskSummary        string    `json:"task_summary"`
	KeyFindings        []string  `json:"key_findings,omitempty"`
	RemainingUnknowns  []string  `json:"remaining_unknowns,omitempty"`
	NextSessionContext string    `json:"next_session_context,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Status is one aggregated system snapshot.
type Status struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`

	Phase        string `json:"phase"`
	CheckRounds  int    `json:"check_rounds"`
	LastDecision string `json:"last_decision"`

	EventsPublished int64          `json:"events_published"`
	ObserverCount   int            `json:"observer_count"`
	EventsByType    map[string]int `json:"events_by_type,omitempty"`

	ContextTokensUsed     int     `json:"context_tokens_used"`
	ContextTokensCapacity int     `json:"context_tokens_capacity"`
	ContextUtilization    float64 `json:"context_utilization"`
	ContextUnderPressure  bool    `json:"context_under_pressure"`

	GroundedBeliefs int    `json:"grounded_beliefs"`
	TrustLevel      string `json:"trust_level,omitempty"`
	TrustRationale  string `json:"trust_rationale,omitempty"`

	VectorBackendHealthy bool     `json:"vector_backend_healthy"`
	DegradedSections     []string `json:"degraded_sections,omitempty"`
}
