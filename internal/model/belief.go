package model

import "time"

// EvidenceQuality weights how much an evidence item moves a grounded belief.
type EvidenceQuality float64

const (
	QualityObjective     EvidenceQuality = 1.0
	QualitySemiObjective EvidenceQuality = 0.7
	QualityInferred      EvidenceQuality = 0.4
)

// EvidenceItem is one objective observation emitted by a collector.
type EvidenceItem struct {
	Source          string          `json:"source"`
	MetricName      string          `json:"metric_name"`
	NormalizedValue float64         `json:"normalized_value"` // in [0,1]
	RawValue        float64         `json:"raw_value"`
	Quality         EvidenceQuality `json:"quality"`
	SupportsVectors []VectorName    `json:"supports_vectors"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// GroundedBelief is the Bayesian posterior for one (ai_id, vector) pair,
// updated from objective evidence rather than self-assessment.
type GroundedBelief struct {
	BeliefID              string     `db:"belief_id" json:"belief_id"`
	SessionID             string     `db:"session_id" json:"session_id"`
	AIID                  string     `db:"ai_id" json:"ai_id"`
	VectorName            VectorName `db:"vector_name" json:"vector_name"`
	Mean                  float64    `db:"mean" json:"mean"`
	Variance              float64    `db:"variance" json:"variance"`
	EvidenceCount         int        `db:"evidence_count" json:"evidence_count"`
	LastObservation       float64    `db:"last_observation" json:"last_observation"`
	LastObservationSource string     `db:"last_observation_source" json:"last_observation_source"`
	SelfReferentialMean   *float64   `db:"self_referential_mean" json:"self_referential_mean,omitempty"`
	Divergence            *float64   `db:"divergence" json:"divergence,omitempty"`
	LastUpdated           time.Time  `db:"last_updated" json:"last_updated"`
	Phase                 string     `db:"phase" json:"phase"`
}

// NewGroundedBelief returns the uninformed prior: mean 0.5, variance 0.25.
func NewGroundedBelief(sessionID, aiID string, vector VectorName) GroundedBelief {
	return GroundedBelief{
		SessionID:  sessionID,
		AIID:       aiID,
		VectorName: vector,
		Mean:       0.5,
		Variance:   0.25,
	}
}

// UngroundableVectors have no objective signal and keep self-referential
// calibration only.
var UngroundableVectors = map[VectorName]bool{
	VectorEngagement: true,
	VectorCoherence:  true,
	VectorDensity:    true,
}

// TrajectoryPoint is one calibration measurement over time.
type TrajectoryPoint struct {
	PointID      string     `db:"point_id" json:"point_id"`
	SessionID    string     `db:"session_id" json:"session_id"`
	AIID         string     `db:"ai_id" json:"ai_id"`
	VectorName   VectorName `db:"vector_name" json:"vector_name"`
	SelfAssessed float64    `db:"self_assessed" json:"self_assessed"`
	Grounded     *float64   `db:"grounded" json:"grounded,omitempty"`
	Gap          *float64   `db:"gap" json:"gap,omitempty"`
	Domain       *string    `db:"domain" json:"domain,omitempty"`
	GoalID       *string    `db:"goal_id" json:"goal_id,omitempty"`
	Timestamp    time.Time  `db:"timestamp" json:"timestamp"`
	Phase        string     `db:"phase" json:"phase"`
}

// TrajectoryDirection summarizes whether calibration gaps are trending.
type TrajectoryDirection string

const (
	TrajectoryClosing  TrajectoryDirection = "closing"
	TrajectoryWidening TrajectoryDirection = "widening"
	TrajectoryStable   TrajectoryDirection = "stable"
)
