package contextbudget

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/empirica-ai/empirica/internal/model"
)

func sqlTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

// OnEvent implements the bus Observer. The manager reacts to the epistemic
// event stream by paging context in and out.
func (m *Manager) OnEvent(ctx context.Context, e model.EpistemicEvent) error {
	switch e.EventType {
	case model.EventSessionStarted:
		m.mu.Lock()
		m.items = make(map[string]*model.ContextItem)
		m.mu.Unlock()
		return nil

	case model.EventConfidenceDrop:
		return m.handleConfidenceDrop(ctx, e)

	case model.EventPostflight:
		m.DecayPass(ctx)
		return nil

	case model.EventCalibrationDrift:
		_, err := m.RequestInjection(ctx, model.InjectionRequest{
			ContentType:     model.ContentProtocol,
			Zone:            model.ZoneWorking,
			Source:          "calibration_drift",
			Channel:         model.ChannelImplicit,
			Label:           "epistemic_conduct",
			EstimatedTokens: 3000,
			EpistemicValue:  0.7,
			Priority:        model.InjectionNormal,
			Evictable:       true,
		})
		return err

	case model.EventGoalCreated:
		return m.registerGoal(ctx, e)

	case model.EventGoalCompleted:
		m.demoteGoal(e)
		return nil
	}
	return nil
}

// handleConfidenceDrop is the page-fault path: a drop in know/context pulls
// bootstrap material in, a spike in uncertainty pulls the
// ask-before-investigate protocol in.
func (m *Manager) handleConfidenceDrop(ctx context.Context, e model.EpistemicEvent) error {
	vector, _ := e.Data["vector"].(string)

	var req model.InjectionRequest
	switch model.VectorName(vector) {
	case model.VectorKnow, model.VectorContext:
		req = model.InjectionRequest{
			ContentType:     model.ContentBootstrap,
			Zone:            model.ZoneWorking,
			Source:          "page_fault",
			Channel:         model.ChannelImplicit,
			Label:           "bootstrap",
			EstimatedTokens: 5000,
			EpistemicValue:  0.8,
			Priority:        model.InjectionNormal,
			Evictable:       true,
		}
	case model.VectorUncertainty:
		req = model.InjectionRequest{
			ContentType:     model.ContentProtocol,
			Zone:            model.ZoneWorking,
			Source:          "page_fault",
			Channel:         model.ChannelImplicit,
			Label:           "ask_before_investigate",
			EstimatedTokens: 1500,
			EpistemicValue:  0.7,
			Priority:        model.InjectionNormal,
			Evictable:       true,
		}
	default:
		return nil
	}

	m.mu.Lock()
	m.pageFaults++
	m.mu.Unlock()
	if m.faultCtr != nil {
		m.faultCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("vector", vector)))
	}

	m.publishAll(ctx, []model.EpistemicEvent{{
		EventType: model.EventPageFault,
		AgentID:   m.agentID,
		SessionID: m.sessionID,
		Data: map[string]any{
			"vector": vector,
			"value":  e.Data["value"],
			"label":  req.Label,
		},
	}})

	_, err := m.RequestInjection(ctx, req)
	return err
}

func (m *Manager) registerGoal(ctx context.Context, e model.EpistemicEvent) error {
	goalID, _ := e.Data["goal_id"].(string)
	objective, _ := e.Data["objective"].(string)
	if objective == "" {
		objective = goalID
	}
	_, err := m.RegisterItem(ctx, model.ContextItem{
		ID:              "goal:" + goalID,
		Zone:            model.ZoneWorking,
		ContentType:     model.ContentGoal,
		Source:          "goal_created",
		Channel:         model.ChannelImplicit,
		Label:           objective,
		EstimatedTokens: 500,
		EpistemicValue:  0.9,
		Evictable:       false,
	})
	return err
}

// demoteGoal moves a completed goal's item to CACHE, makes it evictable, and
// scales its value down.
func (m *Manager) demoteGoal(e model.EpistemicEvent) {
	goalID, _ := e.Data["goal_id"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items["goal:"+goalID]
	if !ok {
		return
	}
	it.Zone = model.ZoneCache
	it.Evictable = true
	it.EpistemicValue *= 0.3
}
