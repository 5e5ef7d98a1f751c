package model

import (
	"math"
	"time"
)

// Zone is one of the three capacity-bounded regions of the context window.
type Zone string

const (
	ZoneAnchor  Zone = "ANCHOR"
	ZoneWorking Zone = "WORKING"
	ZoneCache   Zone = "CACHE"
)

// ZoneWeight returns the priority multiplier for a zone. Anchor items
// dominate so they are never chosen by ascending-priority eviction scans.
func ZoneWeight(z Zone) float64 {
	switch z {
	case ZoneAnchor:
		return 100
	case ZoneWorking:
		return 1
	case ZoneCache:
		return 0.5
	}
	return 1
}

// ContentType classifies what a context item holds.
type ContentType string

const (
	ContentCalibration  ContentType = "calibration"
	ContentProtocol     ContentType = "protocol"
	ContentFinding      ContentType = "finding"
	ContentGoal         ContentType = "goal"
	ContentCode         ContentType = "code"
	ContentConversation ContentType = "conversation"
	ContentSkill        ContentType = "skill"
	ContentBootstrap    ContentType = "bootstrap"
	ContentSystemPrompt ContentType = "system_prompt"
	ContentUnknown      ContentType = "unknown"
	ContentDeadEnd      ContentType = "dead_end"
)

// Channel is the path through which content entered the context window.
type Channel string

const (
	ChannelHook     Channel = "hook"
	ChannelSkill    Channel = "skill"
	ChannelMCP      Channel = "mcp"
	ChannelDirect   Channel = "direct"
	ChannelImplicit Channel = "implicit"
)

// ContextItem is one memory page tracked by the context budget manager.
type ContextItem struct {
	ID              string      `json:"id"`
	Zone            Zone        `json:"zone"`
	ContentType     ContentType `json:"content_type"`
	Source          string      `json:"source"`
	Channel         Channel     `json:"channel"`
	Label           string      `json:"label"`
	EstimatedTokens int         `json:"estimated_tokens"`
	EpistemicValue  float64     `json:"epistemic_value"`
	ReferenceCount  int         `json:"reference_count"`
	InjectedAt      time.Time   `json:"injected_at"`
	LastReferenced  time.Time   `json:"last_referenced"`
	Evictable       bool        `json:"evictable"`
}

// Priority computes the eviction priority at time now:
//
//	epistemic_value × exp(−decayRate × idleMinutes) × log(1 + refs + 1) × zoneWeight
//
// Idle time is converted to minutes before the exponent; this matches the
// calibration continuity of existing stored inventories.
func (c ContextItem) Priority(now time.Time, decayRate float64) float64 {
	idleMinutes := now.Sub(c.LastReferenced).Minutes()
	if idleMinutes < 0 {
		idleMinutes = 0
	}
	decay := math.Exp(-decayRate * idleMinutes)
	refBoost := math.Log(1 + float64(c.ReferenceCount) + 1)
	return c.EpistemicValue * decay * refBoost * ZoneWeight(c.Zone)
}

// InjectionPriority ranks an injection request.
type InjectionPriority string

const (
	InjectionLow      InjectionPriority = "low"
	InjectionNormal   InjectionPriority = "normal"
	InjectionCritical InjectionPriority = "critical"
)

// InjectionRequest asks the CBM to page content in.
type InjectionRequest struct {
	ContentType     ContentType       `json:"content_type"`
	Zone            Zone              `json:"zone"`
	Source          string            `json:"source"`
	Channel         Channel           `json:"channel"`
	Label           string            `json:"label"`
	EstimatedTokens int               `json:"estimated_tokens"`
	EpistemicValue  float64           `json:"epistemic_value"`
	Priority        InjectionPriority `json:"priority"`
	Evictable       bool              `json:"evictable"`
}
