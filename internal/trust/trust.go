// Package trust computes a graduated autonomy level from grounded evidence
// and gates high-impact actions on it.
package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/empirica-ai/empirica/internal/calibration"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// Level is the degree of autonomy the sentinel grants.
type Level string

const (
	// LevelSupervised requires human review before any ACT.
	LevelSupervised Level = "supervised"
	// LevelGuided allows routine actions; high-impact ones need review.
	LevelGuided Level = "guided"
	// LevelAutonomous allows all actions.
	LevelAutonomous Level = "autonomous"
)

// Impact bands for action gating.
const (
	highImpactThreshold   = 0.7
	mediumImpactThreshold = 0.4
)

// Assessment is the sentinel's view of an agent at a point in time.
type Assessment struct {
	Level         Level                     `json:"level"`
	ProceedRatio  float64                   `json:"proceed_ratio"`
	CheckRounds   int                       `json:"check_rounds"`
	MistakeCount  int                       `json:"mistake_count"`
	GapTrajectory model.TrajectoryDirection `json:"gap_trajectory"`
	Rationale     string                    `json:"rationale"`
}

// Sentinel assesses trust from stored evidence.
type Sentinel struct {
	db     *storage.DB
	engine *calibration.Engine
	logger *slog.Logger
}

// New creates a sentinel. engine may be nil; the gap trajectory then reads
// as stable.
func New(db *storage.DB, engine *calibration.Engine, logger *slog.Logger) *Sentinel {
	return &Sentinel{db: db, engine: engine, logger: logger}
}

// Assess derives the autonomy level for one agent in one session. Evidence
// that cannot be read degrades toward the cautious side.
func (s *Sentinel) Assess(ctx context.Context, sessionID, aiID string) (Assessment, error) {
	a := Assessment{GapTrajectory: model.TrajectoryStable}

	total, proceeded, err := s.db.CountCheckRounds(ctx, sessionID)
	if err != nil {
		return a, fmt.Errorf("trust: check rounds: %w", err)
	}
	a.CheckRounds = total
	if total > 0 {
		a.ProceedRatio = float64(proceeded) / float64(total)
	}

	mistakes, err := s.db.ListMistakes(ctx, sessionID)
	if err != nil {
		return a, fmt.Errorf("trust: mistakes: %w", err)
	}
	a.MistakeCount = len(mistakes)

	if s.engine != nil {
		dir, err := s.engine.TrajectoryDirection(ctx, aiID, model.VectorKnow)
		if err != nil {
			s.logger.Warn("trajectory read failed, assuming stable", "ai_id", aiID, "error", err)
		} else {
			a.GapTrajectory = dir
		}
	}

	switch {
	case a.GapTrajectory == model.TrajectoryWidening:
		a.Level = LevelSupervised
		a.Rationale = "calibration gap is widening"
	case a.MistakeCount >= 3:
		a.Level = LevelSupervised
		a.Rationale = fmt.Sprintf("%d mistakes recorded this session", a.MistakeCount)
	case total > 0 && a.ProceedRatio < 0.4:
		a.Level = LevelSupervised
		a.Rationale = "most CHECK rounds required further investigation"
	case total > 0 && a.ProceedRatio >= 0.8 && a.MistakeCount == 0:
		a.Level = LevelAutonomous
		a.Rationale = "consistent proceed decisions with no recorded mistakes"
	default:
		a.Level = LevelGuided
		a.Rationale = "insufficient or mixed evidence, defaulting to guided autonomy"
	}
	return a, nil
}

// GateAction decides whether an action of the given impact may run under the
// assessment. A refusal names what would unlock it.
func GateAction(a Assessment, impact float64) (bool, string) {
	switch a.Level {
	case LevelAutonomous:
		return true, ""
	case LevelGuided:
		if impact >= highImpactThreshold {
			return false, fmt.Sprintf("impact %.2f requires autonomous trust (currently %s: %s)",
				impact, a.Level, a.Rationale)
		}
		return true, ""
	default:
		if impact >= mediumImpactThreshold {
			return false, fmt.Sprintf("impact %.2f requires at least guided trust (currently %s: %s)",
				impact, a.Level, a.Rationale)
		}
		return true, ""
	}
}
