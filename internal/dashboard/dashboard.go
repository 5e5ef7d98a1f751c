// Package dashboard aggregates kernel subsystems into one status snapshot,
// the way /proc summarizes a running system.
package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/empirica-ai/empirica/internal/contextbudget"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
	"github.com/empirica-ai/empirica/internal/trust"
)

// BusStats exposes the counters the dashboard reads from the event bus.
type BusStats interface {
	GetEventCount() int64
	GetObserverCount() int
}

// VectorHealth reports whether the vector backend is reachable.
type VectorHealth interface {
	Healthy(ctx context.Context) bool
}

// SystemStatus is one aggregated snapshot. Sections that could not be read
// are zero-valued and named in DegradedSections.
type SystemStatus struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`

	Phase        model.Phase    `json:"phase"`
	CheckRounds  int            `json:"check_rounds"`
	LastDecision model.Decision `json:"last_decision"`

	EventsPublished int64                   `json:"events_published"`
	ObserverCount   int                     `json:"observer_count"`
	EventsByType    map[model.EventType]int `json:"events_by_type,omitempty"`

	ContextBudget   *contextbudget.BudgetReport `json:"context_budget,omitempty"`
	AttentionBudget *model.AttentionBudget      `json:"attention_budget,omitempty"`

	GroundedBeliefs int               `json:"grounded_beliefs"`
	Trust           *trust.Assessment `json:"trust,omitempty"`

	VectorBackendHealthy bool     `json:"vector_backend_healthy"`
	DegradedSections     []string `json:"degraded_sections,omitempty"`
}

// Dashboard reads all subsystems. Every dependency except the store may be
// nil; missing ones simply leave their section empty.
type Dashboard struct {
	db       *storage.DB
	bus      BusStats
	cbm      *contextbudget.Manager
	sentinel *trust.Sentinel
	vector   VectorHealth
	logger   *slog.Logger
	now      func() time.Time
}

func New(db *storage.DB, bus BusStats, cbm *contextbudget.Manager, sentinel *trust.Sentinel, vector VectorHealth, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		db:       db,
		bus:      bus,
		cbm:      cbm,
		sentinel: sentinel,
		vector:   vector,
		logger:   logger,
		now:      time.Now,
	}
}

// GetSystemStatus builds the snapshot. Individual section failures degrade
// the snapshot, they never fail it.
func (d *Dashboard) GetSystemStatus(ctx context.Context, sessionID, agentID string) SystemStatus {
	status := SystemStatus{
		Timestamp: d.now().UTC(),
		SessionID: sessionID,
		AgentID:   agentID,
	}
	degrade := func(section string, err error) {
		d.logger.Warn("status section unavailable", "section", section, "error", err)
		status.DegradedSections = append(status.DegradedSections, section)
	}

	if reflexes, err := d.db.ListReflexes(ctx, sessionID); err != nil {
		degrade("cascade", err)
	} else if len(reflexes) > 0 {
		last := reflexes[len(reflexes)-1]
		status.Phase = last.Phase
		status.LastDecision = last.Decision
	}
	if total, _, err := d.db.CountCheckRounds(ctx, sessionID); err != nil {
		degrade("check_rounds", err)
	} else {
		status.CheckRounds = total
	}
	if counts, err := d.db.CountEventsByType(ctx, sessionID); err != nil {
		degrade("events", err)
	} else if len(counts) > 0 {
		status.EventsByType = counts
	}
	if budget, err := d.db.LatestAttentionBudget(ctx, sessionID); err == nil && budget.ID != "" {
		status.AttentionBudget = &budget
	}
	if beliefs, err := d.db.ListGroundedBeliefs(ctx, agentID, "praxic"); err != nil {
		degrade("beliefs", err)
	} else {
		status.GroundedBeliefs = len(beliefs)
	}

	if d.bus != nil {
		status.EventsPublished = d.bus.GetEventCount()
		status.ObserverCount = d.bus.GetObserverCount()
	}
	if d.cbm != nil {
		report := d.cbm.GetBudgetReport()
		status.ContextBudget = &report
	}
	if d.sentinel != nil {
		if assessment, err := d.sentinel.Assess(ctx, sessionID, agentID); err != nil {
			degrade("trust", err)
		} else {
			status.Trust = &assessment
		}
	}
	if d.vector != nil {
		status.VectorBackendHealthy = d.vector.Healthy(ctx)
	}
	return status
}
