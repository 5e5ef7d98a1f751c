package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/empirica-ai/empirica/internal/model"
)

// UpsertGroundedBelief inserts or updates the posterior for
// (ai_id, vector_name, phase).
func (d *DB) UpsertGroundedBelief(ctx context.Context, b model.GroundedBelief) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO grounded_beliefs (belief_id, session_id, ai_id, vector_name, mean, variance, evidence_count, last_observation, last_observation_source, self_referential_mean, divergence, last_updated, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ai_id, vector_name, phase) DO UPDATE SET
			session_id = excluded.session_id,
			mean = excluded.mean,
			variance = excluded.variance,
			evidence_count = excluded.evidence_count,
			last_observation = excluded.last_observation,
			last_observation_source = excluded.last_observation_source,
			self_referential_mean = excluded.self_referential_mean,
			divergence = excluded.divergence,
			last_updated = excluded.last_updated`,
		b.BeliefID, b.SessionID, b.AIID, b.VectorName, b.Mean, b.Variance,
		b.EvidenceCount, b.LastObservation, b.LastObservationSource,
		b.SelfReferentialMean, b.Divergence, b.LastUpdated, b.Phase,
	)
	if err != nil {
		return persistErr("upsert grounded belief", err)
	}
	return nil
}

// GetGroundedBelief loads the posterior for (ai_id, vector, phase), or nil
// when no belief has been formed yet.
func (d *DB) GetGroundedBelief(ctx context.Context, aiID string, vector model.VectorName, phase string) (*model.GroundedBelief, error) {
	var b model.GroundedBelief
	err := d.GetContext(ctx, &b, `
		SELECT * FROM grounded_beliefs WHERE ai_id = ? AND vector_name = ? AND phase = ?`,
		aiID, vector, phase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get grounded belief: %w", err)
	}
	return &b, nil
}

// ListGroundedBeliefs returns all posteriors for an agent at a phase.
func (d *DB) ListGroundedBeliefs(ctx context.Context, aiID, phase string) ([]model.GroundedBelief, error) {
	var out []model.GroundedBelief
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM grounded_beliefs WHERE ai_id = ? AND phase = ? ORDER BY vector_name ASC`,
		aiID, phase)
	if err != nil {
		return nil, fmt.Errorf("storage: list grounded beliefs: %w", err)
	}
	return out, nil
}

// GroundedVerification is one full verification run persisted for audit.
type GroundedVerification struct {
	VerificationID          string    `db:"verification_id"`
	SessionID               string    `db:"session_id"`
	AIID                    string    `db:"ai_id"`
	SelfAssessedVectorsJSON string    `db:"self_assessed_vectors_json"`
	GroundedVectorsJSON     string    `db:"grounded_vectors_json"`
	CalibrationGapsJSON     string    `db:"calibration_gaps_json"`
	GroundedCoverage        float64   `db:"grounded_coverage"`
	OverallCalibrationScore float64   `db:"overall_calibration_score"`
	EvidenceCount           int       `db:"evidence_count"`
	SourcesAvailableJSON    string    `db:"sources_available_json"`
	SourcesFailedJSON       string    `db:"sources_failed_json"`
	Domain                  *string   `db:"domain"`
	GoalID                  *string   `db:"goal_id"`
	Phase                   string    `db:"phase"`
	CreatedAt               time.Time `db:"created_at"`
}

// InsertVerification persists a verification record.
func (d *DB) InsertVerification(ctx context.Context, v GroundedVerification) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO grounded_verifications (verification_id, session_id, ai_id, self_assessed_vectors_json, grounded_vectors_json, calibration_gaps_json, grounded_coverage, overall_calibration_score, evidence_count, sources_available_json, sources_failed_json, domain, goal_id, phase, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VerificationID, v.SessionID, v.AIID, v.SelfAssessedVectorsJSON,
		v.GroundedVectorsJSON, v.CalibrationGapsJSON, v.GroundedCoverage,
		v.OverallCalibrationScore, v.EvidenceCount, v.SourcesAvailableJSON,
		v.SourcesFailedJSON, v.Domain, v.GoalID, v.Phase, v.CreatedAt,
	)
	if err != nil {
		return persistErr("insert verification", err)
	}
	return nil
}

// InsertTrajectoryPoint appends one calibration trajectory measurement.
func (d *DB) InsertTrajectoryPoint(ctx context.Context, p model.TrajectoryPoint) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO calibration_trajectory (point_id, session_id, ai_id, vector_name, self_assessed, grounded, gap, domain, goal_id, timestamp, phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PointID, p.SessionID, p.AIID, p.VectorName, p.SelfAssessed,
		p.Grounded, p.Gap, p.Domain, p.GoalID, p.Timestamp, p.Phase,
	)
	if err != nil {
		return persistErr("insert trajectory point", err)
	}
	return nil
}

// RecentTrajectory returns the last n points for (ai_id, vector), oldest
// first so regression slopes read forward in time.
func (d *DB) RecentTrajectory(ctx context.Context, aiID string, vector model.VectorName, n int) ([]model.TrajectoryPoint, error) {
	if n <= 0 {
		n = 10
	}
	var out []model.TrajectoryPoint
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM (
			SELECT * FROM calibration_trajectory
			WHERE ai_id = ? AND vector_name = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, aiID, vector, n)
	if err != nil {
		return nil, fmt.Errorf("storage: recent trajectory: %w", err)
	}
	return out, nil
}
