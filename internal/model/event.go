package model

import (
	"encoding/json"
	"time"
)

// EventType names one event in the closed kernel vocabulary.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventPhaseTransition  EventType = "phase_transition"
	EventConfidenceDrop   EventType = "confidence_dropped"
	EventCalibrationDrift EventType = "calibration_drift_detected"
	EventMemoryPressure   EventType = "memory_pressure"
	EventContextEvicted   EventType = "context_evicted"
	EventContextInjected  EventType = "context_injected"
	EventPageFault        EventType = "page_fault"
	EventBudgetExhausted  EventType = "budget_exhausted"
	EventGoalCreated      EventType = "goal_created"
	EventGoalCompleted    EventType = "goal_completed"
	EventPostflight       EventType = "postflight_complete"
	EventActionDecided    EventType = "action_decided"
)

// EventTypes lists the full vocabulary.
var EventTypes = []EventType{
	EventSessionStarted, EventPhaseTransition, EventConfidenceDrop,
	EventCalibrationDrift, EventMemoryPressure, EventContextEvicted,
	EventContextInjected, EventPageFault, EventBudgetExhausted,
	EventGoalCreated, EventGoalCompleted, EventPostflight, EventActionDecided,
}

// EpistemicEvent is one typed occurrence on the bus.
type EpistemicEvent struct {
	EventType EventType      `json:"event_type"`
	AgentID   string         `json:"agent_id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DataJSON renders the payload as JSON for persistence. A nil payload
// serializes as an empty object.
func (e EpistemicEvent) DataJSON() string {
	if e.Data == nil {
		return "{}"
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// StoredEvent is an EpistemicEvent as persisted in the epistemic_events table.
type StoredEvent struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	EventType EventType `db:"event_type" json:"event_type"`
	AgentID   string    `db:"agent_id" json:"agent_id"`
	DataJSON  string    `db:"data_json" json:"data_json"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	NodeID    string    `db:"node_id" json:"node_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
