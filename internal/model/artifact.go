package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContentHash returns the first 16 hex characters of the SHA-256 of text.
// Used for finding deduplication and git-notes content addressing.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Finding is a discovered fact worth remembering across sessions.
type Finding struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	GoalID           *string   `db:"goal_id" json:"goal_id,omitempty"`
	Finding          string    `db:"finding" json:"finding"`
	Impact           float64   `db:"impact" json:"impact"`
	Subject          *string   `db:"subject" json:"subject,omitempty"`
	CreatedTimestamp time.Time `db:"created_timestamp" json:"created_timestamp"`
}

// Hash returns the finding's content hash.
func (f Finding) Hash() string { return ContentHash(f.Finding) }

// Unknown is an open question the agent has not yet resolved.
type Unknown struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	GoalID           *string   `db:"goal_id" json:"goal_id,omitempty"`
	Unknown          string    `db:"unknown" json:"unknown"`
	IsResolved       bool      `db:"is_resolved" json:"is_resolved"`
	ResolvedBy       *string   `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedTimestamp time.Time `db:"created_timestamp" json:"created_timestamp"`
}

// DeadEnd is an approach that was tried and failed; recorded so later
// investigation does not repeat it.
type DeadEnd struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	GoalID           *string   `db:"goal_id" json:"goal_id,omitempty"`
	Approach         string    `db:"approach" json:"approach"`
	WhyFailed        string    `db:"why_failed" json:"why_failed"`
	CreatedTimestamp time.Time `db:"created_timestamp" json:"created_timestamp"`
}

// Mistake is a post-hoc record of an error, its root cause, and prevention.
type Mistake struct {
	ID               string    `db:"id" json:"id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	Mistake          string    `db:"mistake" json:"mistake"`
	WhyWrong         string    `db:"why_wrong" json:"why_wrong"`
	Prevention       *string   `db:"prevention" json:"prevention,omitempty"`
	CostEstimate     *string   `db:"cost_estimate" json:"cost_estimate,omitempty"`
	RootCauseVector  *string   `db:"root_cause_vector" json:"root_cause_vector,omitempty"`
	CreatedTimestamp time.Time `db:"created_timestamp" json:"created_timestamp"`
}
