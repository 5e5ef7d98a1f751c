// Package cascade enforces the PREFLIGHT → (INVESTIGATE ↔ CHECK)* → ACT →
// POSTFLIGHT protocol. Every transition writes a reflex row before it
// returns, so the database is always the authoritative history.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// Publisher is the slice of the event bus the cascade needs.
type Publisher interface {
	Publish(ctx context.Context, e model.EpistemicEvent) error
}

// State is the live handle for one cascade.
type State struct {
	SessionID           string          `json:"session_id"`
	AgentID             string          `json:"agent_id"`
	Phase               model.Phase     `json:"phase"`
	Cycle               int             `json:"cycle"`
	PreflightVectors    model.VectorSet `json:"preflight_vectors"`
	LastCheckDecision   model.Decision  `json:"last_check_decision"`
	LastCheckConfidence float64         `json:"last_check_confidence"`
	Closed              bool            `json:"closed"`
}

// CheckDecision is the outcome of one CHECK round.
type CheckDecision struct {
	Decision    model.Decision `json:"decision"`
	Confidence  float64        `json:"confidence"`
	Cycle       int            `json:"cycle"`
	NextTargets []string       `json:"next_targets,omitempty"`
	Reasoning   string         `json:"reasoning"`
}

// PostflightReport closes a cascade.
type PostflightReport struct {
	Delta         map[string]float64       `json:"delta"`
	Verdict       model.CalibrationVerdict `json:"verdict"`
	ConfidenceGap float64                  `json:"confidence_gap"`
	LearningNotes string                   `json:"learning_notes"`
}

// Machine runs cascades against the store and bus.
type Machine struct {
	cfg       config.Config
	db        *storage.DB
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a cascade machine. publisher may be nil to run silently.
func New(cfg config.Config, db *storage.DB, publisher Publisher, logger *slog.Logger) *Machine {
	return &Machine{
		cfg:       cfg,
		db:        db,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func vectorsJSON(v model.VectorSet) string {
	b, err := json.Marshal(v.ToMap())
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (m *Machine) writeReflex(ctx context.Context, sessionID string, phase model.Phase, round int, vectors model.VectorSet, decision model.Decision, reasoning string) error {
	r := model.Reflex{
		SessionID:     sessionID,
		Phase:         phase,
		Round:         round,
		VectorsJSON:   vectorsJSON(vectors),
		Decision:      decision,
		Reasoning:     reasoning,
		Timestamp:     m.now().UTC(),
		TransactionID: uuid.NewString(),
	}
	return m.db.InsertReflex(ctx, &r)
}

func (m *Machine) publish(ctx context.Context, st *State, typ model.EventType, data map[string]any) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(ctx, model.EpistemicEvent{
		EventType: typ,
		AgentID:   st.AgentID,
		SessionID: st.SessionID,
		Data:      data,
	})
	if err != nil {
		m.logger.Warn("event publish failed", "event_type", typ, "session_id", st.SessionID, "error", err)
	}
}

// StartCascade opens a cascade: writes the baseline PREFLIGHT reflex and
// publishes session_started. The session row must already exist.
func (m *Machine) StartCascade(ctx context.Context, sessionID, agentID, userPrompt string) (*State, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("cascade: empty session id: %w", model.ErrBadInput)
	}
	baseline := model.DefaultVectors()
	if err := m.writeReflex(ctx, sessionID, model.PhasePreflight, 1, baseline,
		model.DecisionProceed, "baseline self-assessment: "+userPrompt); err != nil {
		return nil, fmt.Errorf("cascade: preflight: %w", err)
	}

	st := &State{
		SessionID:        sessionID,
		AgentID:          agentID,
		Phase:            model.PhasePreflight,
		Cycle:            0,
		PreflightVectors: baseline,
	}
	m.publish(ctx, st, model.EventSessionStarted, map[string]any{"user_prompt": userPrompt})
	return st, nil
}

// gapTargets maps gap keywords to suggested next investigation targets.
var gapTargets = []struct {
	keywords []string
	target   string
}{
	{[]string{"file", "code"}, "Read relevant source files"},
	{[]string{"doc"}, "Read project documentation"},
	{[]string{"architecture", "structure"}, "Map the architecture"},
	{[]string{"dependency", "import"}, "Check dependencies"},
}

// nextTargets derives suggested investigation targets from gap descriptions.
func nextTargets(gaps []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, g := range gaps {
		lower := strings.ToLower(g)
		matched := false
		for _, gt := range gapTargets {
			for _, kw := range gt.keywords {
				if strings.Contains(lower, kw) {
					if !seen[gt.target] {
						seen[gt.target] = true
						out = append(out, gt.target)
					}
					matched = true
					break
				}
			}
		}
		if !matched {
			t := "Investigate: " + g
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// SubmitCheck records one CHECK round and returns the gate decision.
// Confidence bands: ≥ 0.8 proceed, ≥ 0.6 proceed_with_caveat, below that
// investigate until the recalibration cycle cap forces escalate.
func (m *Machine) SubmitCheck(ctx context.Context, st *State, summary string, confidence float64, gaps []string) (CheckDecision, error) {
	if st.Closed {
		return CheckDecision{}, fmt.Errorf("cascade: session %s already closed: %w", st.SessionID, model.ErrPhaseViolation)
	}
	if confidence < 0 || confidence > 1 {
		return CheckDecision{}, fmt.Errorf("cascade: confidence %v out of range: %w", confidence, model.ErrBadInput)
	}

	cycle := st.Cycle + 1
	dec := CheckDecision{Confidence: confidence, Cycle: cycle, Reasoning: summary}
	switch {
	case confidence >= m.cfg.ConfidenceThresholdProceed:
		dec.Decision = model.DecisionProceed
	case confidence >= m.cfg.ConfidenceThresholdCaveat:
		dec.Decision = model.DecisionCaveat
	case cycle >= m.cfg.MaxRecalibrationCycles:
		dec.Decision = model.DecisionEscalate
		dec.Reasoning = fmt.Sprintf("%s (recalibration cycle cap %d reached, requesting human guidance)",
			summary, m.cfg.MaxRecalibrationCycles)
	default:
		dec.Decision = model.DecisionInvestigate
		dec.NextTargets = nextTargets(gaps)
	}

	vectors := st.PreflightVectors
	_ = vectors.Set(model.VectorKnow, confidence)
	_ = vectors.Set(model.VectorUncertainty, 1-confidence)

	if err := m.writeReflex(ctx, st.SessionID, model.PhaseCheck, cycle, vectors, dec.Decision, dec.Reasoning); err != nil {
		return CheckDecision{}, fmt.Errorf("cascade: check: %w", err)
	}

	st.Cycle = cycle
	st.Phase = model.PhaseCheck
	st.LastCheckDecision = dec.Decision
	st.LastCheckConfidence = confidence

	m.publish(ctx, st, model.EventPhaseTransition, map[string]any{
		"phase": string(model.PhaseCheck), "round": cycle, "decision": string(dec.Decision),
	})
	if dec.Decision == model.DecisionInvestigate || dec.Decision == model.DecisionEscalate {
		m.publish(ctx, st, model.EventConfidenceDrop, map[string]any{
			"vector": string(model.VectorKnow), "value": confidence,
		})
	}
	return dec, nil
}

// ExecuteAct records the ACT transition. It is refused while the most recent
// CHECK decision demands more investigation or human guidance.
func (m *Machine) ExecuteAct(ctx context.Context, st *State, actionSummary string) error {
	if st.Closed {
		return fmt.Errorf("cascade: session %s already closed: %w", st.SessionID, model.ErrPhaseViolation)
	}
	switch st.LastCheckDecision {
	case model.DecisionProceed, model.DecisionCaveat:
	default:
		return fmt.Errorf("cascade: act blocked by check decision %q: %w",
			st.LastCheckDecision, model.ErrPhaseViolation)
	}

	vectors := st.PreflightVectors
	_ = vectors.Set(model.VectorKnow, st.LastCheckConfidence)
	_ = vectors.Set(model.VectorDo, st.LastCheckConfidence)

	if err := m.writeReflex(ctx, st.SessionID, model.PhaseAct, 1, vectors, st.LastCheckDecision, actionSummary); err != nil {
		return fmt.Errorf("cascade: act: %w", err)
	}
	st.Phase = model.PhaseAct
	m.publish(ctx, st, model.EventActionDecided, map[string]any{"action": actionSummary})
	return nil
}

// SubmitPostflight closes the cascade: records the postflight reflex,
// computes the vector delta against PREFLIGHT and the calibration verdict
// from the CHECK-vs-POSTFLIGHT confidence gap. POSTFLIGHT is terminal.
func (m *Machine) SubmitPostflight(ctx context.Context, st *State, taskSummary string, postVectors model.VectorSet, learningNotes string) (PostflightReport, error) {
	if st.Closed {
		return PostflightReport{}, fmt.Errorf("cascade: session %s already closed: %w", st.SessionID, model.ErrPhaseViolation)
	}

	gap := st.LastCheckConfidence - postVectors.Know
	verdict := model.VerdictWellCalibrated
	switch {
	case gap > m.cfg.CalibrationTolerance:
		verdict = model.VerdictOverconfident
	case gap < -m.cfg.CalibrationTolerance:
		verdict = model.VerdictUnderconfident
	}

	reasoning := taskSummary
	if learningNotes != "" {
		reasoning = taskSummary + " | " + learningNotes
	}
	if err := m.writeReflex(ctx, st.SessionID, model.PhasePostflight, 1, postVectors,
		model.DecisionProceed, reasoning); err != nil {
		return PostflightReport{}, fmt.Errorf("cascade: postflight: %w", err)
	}

	if err := m.db.EndSession(ctx, st.SessionID, m.now().UTC()); err != nil {
		m.logger.Warn("session close failed", "session_id", st.SessionID, "error", err)
	}

	st.Phase = model.PhasePostflight
	st.Closed = true

	report := PostflightReport{
		Delta:         postVectors.Delta(st.PreflightVectors),
		Verdict:       verdict,
		ConfidenceGap: gap,
		LearningNotes: learningNotes,
	}
	m.publish(ctx, st, model.EventPostflight, map[string]any{
		"verdict":        string(verdict),
		"confidence_gap": gap,
		"task_summary":   taskSummary,
	})
	return report, nil
}

// Resume rebuilds a cascade handle from persisted reflexes, for process
// restarts. Returns ErrNoSession when nothing was recorded.
func (m *Machine) Resume(ctx context.Context, sessionID, agentID string) (*State, error) {
	reflexes, err := m.db.ListReflexes(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("cascade: resume: %w", err)
	}
	if len(reflexes) == 0 {
		return nil, fmt.Errorf("cascade: session %s has no history: %w", sessionID, model.ErrNoSession)
	}

	st := &State{SessionID: sessionID, AgentID: agentID, Phase: model.PhasePreflight}
	for _, r := range reflexes {
		switch r.Phase {
		case model.PhasePreflight:
			var vm map[string]float64
			if err := json.Unmarshal([]byte(r.VectorsJSON), &vm); err == nil {
				if v, verr := model.VectorsFromMap(vm); verr == nil {
					st.PreflightVectors = v
				}
			}
		case model.PhaseCheck:
			st.Cycle = r.Round
			st.LastCheckDecision = r.Decision
			var vm map[string]float64
			if err := json.Unmarshal([]byte(r.VectorsJSON), &vm); err == nil {
				st.LastCheckConfidence = vm[string(model.VectorKnow)]
			}
		case model.PhasePostflight:
			st.Closed = true
		}
		st.Phase = r.Phase
	}
	return st, nil
}
