package model

import "time"

// Session is one agent working session. Sessions are append-only: they are
// ended, never deleted.
type Session struct {
	SessionID       string     `db:"session_id" json:"session_id"`
	AIID            string     `db:"ai_id" json:"ai_id"`
	ProjectID       *string    `db:"project_id" json:"project_id,omitempty"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	ParentSessionID *string    `db:"parent_session_id" json:"parent_session_id,omitempty"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Reflex is one recorded self-assessment for a (session, phase, round).
type Reflex struct {
	ID            int64     `db:"id" json:"id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	Phase         Phase     `db:"phase" json:"phase"`
	Round         int       `db:"round" json:"round"`
	VectorsJSON   string    `db:"vectors_json" json:"vectors_json"`
	Decision      Decision  `db:"decision" json:"decision"`
	Reasoning     string    `db:"reasoning" json:"reasoning"`
	ReflexData    *string   `db:"reflex_data_json" json:"reflex_data_json,omitempty"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
}

// SuggestionStatus tracks the review lifecycle of an agent suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionDeferred SuggestionStatus = "deferred"
)

// Suggestion is an improvement proposal captured during POSTFLIGHT for later
// human review.
type Suggestion struct {
	ID               string           `db:"id" json:"id"`
	SessionID        string           `db:"session_id" json:"session_id"`
	ProjectID        *string          `db:"project_id" json:"project_id,omitempty"`
	Suggestion       string           `db:"suggestion" json:"suggestion"`
	Domain           *string          `db:"domain" json:"domain,omitempty"`
	Confidence       float64          `db:"confidence" json:"confidence"`
	Rationale        *string          `db:"rationale" json:"rationale,omitempty"`
	Status           SuggestionStatus `db:"status" json:"status"`
	ReviewOutcome    *string          `db:"review_outcome" json:"review_outcome,omitempty"`
	CreatedTimestamp time.Time        `db:"created_timestamp" json:"created_timestamp"`
	ReviewedAt       *time.Time       `db:"reviewed_timestamp" json:"reviewed_timestamp,omitempty"`
}
