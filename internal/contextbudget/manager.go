// Package contextbudget implements the context budget manager: a
// virtual-memory view of the agent's context window with three
// capacity-bounded zones, priority-decay eviction, and page-fault injection.
package contextbudget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
	"github.com/empirica-ai/empirica/internal/telemetry"
)

// Publisher is the bus surface the manager needs.
type Publisher interface {
	Publish(ctx context.Context, e model.EpistemicEvent) error
}

// InjectionHandler delivers injected content to the agent through a channel
// (hook, skill, MCP, direct).
type InjectionHandler func(ctx context.Context, item model.ContextItem) error

// EvictionResult reports one eviction pass.
type EvictionResult struct {
	TokensFreed  int      `json:"tokens_freed"`
	TokensNeeded int      `json:"tokens_needed"`
	EvictedIDs   []string `json:"evicted_ids"`
	Insufficient bool     `json:"insufficient"`
}

// ZoneUsage is one zone's slice of a budget report.
type ZoneUsage struct {
	Zone        model.Zone `json:"zone"`
	Capacity    int        `json:"capacity"`
	UsedTokens  int        `json:"used_tokens"`
	ItemCount   int        `json:"item_count"`
	Utilization float64    `json:"utilization"`
}

// BudgetReport is the full CBM snapshot.
type BudgetReport struct {
	SessionID     string              `json:"session_id"`
	Zones         []ZoneUsage         `json:"zones"`
	TotalCapacity int                 `json:"total_capacity"`
	TotalUsed     int                 `json:"total_used"`
	Utilization   float64             `json:"utilization"`
	UnderPressure bool                `json:"under_pressure"`
	PageFaults    int                 `json:"page_faults"`
	Evictions     int                 `json:"evictions"`
	TopItems      []model.ContextItem `json:"top_items"`
	BottomItems   []model.ContextItem `json:"bottom_items"`
}

// Manager tracks the context inventory for one session. All mutation runs
// under a single exclusive lock; bus events are published after the lock is
// released so reactions cannot re-enter and deadlock.
type Manager struct {
	cfg       config.Config
	publisher Publisher
	db        *storage.DB
	logger    *slog.Logger
	sessionID string
	agentID   string
	now       func() time.Time

	mu         sync.Mutex
	items      map[string]*model.ContextItem
	handlers   map[model.Channel]InjectionHandler
	pageFaults int
	evictions  int

	evictedCtr metric.Int64Counter
	faultCtr   metric.Int64Counter
}

// New creates a manager with an empty inventory. db may be nil to disable
// persistence.
func New(cfg config.Config, publisher Publisher, db *storage.DB, logger *slog.Logger, sessionID, agentID string) *Manager {
	meter := telemetry.Meter("empirica/contextbudget")
	evictedCtr, _ := meter.Int64Counter("empirica.cbm.evictions")
	faultCtr, _ := meter.Int64Counter("empirica.cbm.page_faults")
	return &Manager{
		cfg:        cfg,
		publisher:  publisher,
		db:         db,
		logger:     logger,
		sessionID:  sessionID,
		agentID:    agentID,
		now:        time.Now,
		items:      make(map[string]*model.ContextItem),
		handlers:   make(map[model.Channel]InjectionHandler),
		evictedCtr: evictedCtr,
		faultCtr:   faultCtr,
	}
}

// Name implements the bus Observer interface.
func (m *Manager) Name() string { return "contextbudget" }

func (m *Manager) zoneCapacity(z model.Zone) int {
	switch z {
	case model.ZoneAnchor:
		return m.cfg.AnchorReserve
	case model.ZoneWorking:
		return m.cfg.WorkingSetTarget
	case model.ZoneCache:
		return m.cfg.CacheLimit
	}
	return 0
}

func (m *Manager) zoneUsageLocked(z model.Zone) int {
	used := 0
	for _, it := range m.items {
		if it.Zone == z {
			used += it.EstimatedTokens
		}
	}
	return used
}

func (m *Manager) totalUsedLocked() int {
	used := 0
	for _, it := range m.items {
		used += it.EstimatedTokens
	}
	return used
}

// RegisterItem adds an item to its zone. If the zone is full, the lowest
// priority evictable items in the same zone are evicted to free space; if
// space still cannot be freed, the call rejects without mutating state.
// Anchor items are always non-evictable.
func (m *Manager) RegisterItem(ctx context.Context, item model.ContextItem) (bool, error) {
	if item.EstimatedTokens <= 0 {
		return false, fmt.Errorf("contextbudget: item %q has no token estimate: %w", item.Label, model.ErrBadInput)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := m.now().UTC()
	if item.InjectedAt.IsZero() {
		item.InjectedAt = now
	}
	if item.LastReferenced.IsZero() {
		item.LastReferenced = now
	}
	if item.Zone == model.ZoneAnchor {
		item.Evictable = false
	}

	var events []model.EpistemicEvent
	accepted := false

	m.mu.Lock()
	capacity := m.zoneCapacity(item.Zone)
	used := m.zoneUsageLocked(item.Zone)
	if used+item.EstimatedTokens > capacity {
		freed, evicted, _ := m.evictLocked(item.Zone, used+item.EstimatedTokens-capacity)
		if used-freed+item.EstimatedTokens <= capacity {
			events = append(events, m.evictedEventLocked(freed, used+item.EstimatedTokens-capacity, "zone_full", evicted))
		} else {
			// Roll back: evictLocked only removed items when the target was
			// reachable, so freed is zero here and nothing changed.
			m.mu.Unlock()
			return false, nil
		}
	}
	cp := item
	m.items[item.ID] = &cp
	accepted = true
	m.mu.Unlock()

	m.publishAll(ctx, events)
	return accepted, nil
}

// UnregisterItem removes an item. Unknown ids are a no-op.
func (m *Manager) UnregisterItem(id string) {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
}

// TouchItem updates LRU bookkeeping for an item.
func (m *Manager) TouchItem(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return false
	}
	it.LastReferenced = m.now().UTC()
	it.ReferenceCount++
	return true
}

// FindItems returns items matching the filters, ordered by priority
// descending. Empty zone or content type matches all; minPriority ≤ 0
// disables the floor.
func (m *Manager) FindItems(zone model.Zone, contentType model.ContentType, minPriority float64) []model.ContextItem {
	now := m.now().UTC()
	m.mu.Lock()
	out := make([]model.ContextItem, 0, len(m.items))
	for _, it := range m.items {
		if zone != "" && it.Zone != zone {
			continue
		}
		if contentType != "" && it.ContentType != contentType {
			continue
		}
		if minPriority > 0 && it.Priority(now, m.cfg.DecayRate) < minPriority {
			continue
		}
		out = append(out, *it)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority(now, m.cfg.DecayRate) > out[j].Priority(now, m.cfg.DecayRate)
	})
	return out
}

// evictLocked removes the lowest-priority evictable items from zone (or all
// zones when zone is empty) until tokensNeeded is freed. Returns what was
// freed and the evicted items. If the target cannot be reached within one
// zone (zone != ""), nothing is evicted.
func (m *Manager) evictLocked(zone model.Zone, tokensNeeded int) (freed int, evicted []model.ContextItem, insufficient bool) {
	now := m.now().UTC()
	var candidates []*model.ContextItem
	available := 0
	for _, it := range m.items {
		if !it.Evictable || it.Zone == model.ZoneAnchor {
			continue
		}
		if zone != "" && it.Zone != zone {
			continue
		}
		candidates = append(candidates, it)
		available += it.EstimatedTokens
	}

	if zone != "" && available < tokensNeeded {
		// Same-zone eviction is all-or-nothing: rejecting must not mutate.
		return 0, nil, true
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority(now, m.cfg.DecayRate) < candidates[j].Priority(now, m.cfg.DecayRate)
	})

	for _, it := range candidates {
		if freed >= tokensNeeded {
			break
		}
		freed += it.EstimatedTokens
		evicted = append(evicted, *it)
		delete(m.items, it.ID)
		m.evictions++
	}
	return freed, evicted, freed < tokensNeeded
}

func (m *Manager) evictedEventLocked(freed, needed int, reason string, evicted []model.ContextItem) model.EpistemicEvent {
	ids := make([]string, len(evicted))
	for i, it := range evicted {
		ids[i] = it.ID
	}
	data := map[string]any{
		"tokens_freed":  freed,
		"tokens_needed": needed,
		"reason":        reason,
		"evicted_ids":   ids,
	}
	if freed < needed {
		data["reason"] = "insufficient_evictable"
	}
	return model.EpistemicEvent{
		EventType: model.EventContextEvicted,
		AgentID:   m.agentID,
		SessionID: m.sessionID,
		Data:      data,
	}
}

// EvictLowestPriority frees at least tokensNeeded across all zones, evicting
// in ascending priority order. Anchor items are never candidates. Publishes a
// context_evicted event.
func (m *Manager) EvictLowestPriority(ctx context.Context, tokensNeeded int, reason string) EvictionResult {
	m.mu.Lock()
	freed, evicted, insufficient := m.evictLocked("", tokensNeeded)
	ev := m.evictedEventLocked(freed, tokensNeeded, reason, evicted)
	m.mu.Unlock()

	m.publishAll(ctx, []model.EpistemicEvent{ev})
	if m.evictedCtr != nil {
		m.evictedCtr.Add(ctx, int64(len(evicted)), metric.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	ids := make([]string, len(evicted))
	for i, it := range evicted {
		ids[i] = it.ID
	}
	return EvictionResult{
		TokensFreed:  freed,
		TokensNeeded: tokensNeeded,
		EvictedIDs:   ids,
		Insufficient: insufficient,
	}
}

// RegisterInjectionHandler wires the delivery path for a channel. Repeated
// registration for the same channel overwrites.
func (m *Manager) RegisterInjectionHandler(ch model.Channel, h InjectionHandler) {
	m.mu.Lock()
	m.handlers[ch] = h
	m.mu.Unlock()
}

// RequestInjection pages content in. Non-critical requests are rejected when
// the zone has no room; critical requests evict across zones first. Accepted
// injections are routed to the channel's handler and publish a
// context_injected event.
func (m *Manager) RequestInjection(ctx context.Context, req model.InjectionRequest) (bool, error) {
	item := model.ContextItem{
		ID:              uuid.NewString(),
		Zone:            req.Zone,
		ContentType:     req.ContentType,
		Source:          req.Source,
		Channel:         req.Channel,
		Label:           req.Label,
		EstimatedTokens: req.EstimatedTokens,
		EpistemicValue:  req.EpistemicValue,
		Evictable:       req.Evictable,
	}

	accepted, err := m.RegisterItem(ctx, item)
	if err != nil {
		return false, err
	}
	if !accepted {
		if req.Priority != model.InjectionCritical {
			return false, nil
		}
		m.EvictLowestPriority(ctx, req.EstimatedTokens, "critical_injection")
		accepted, err = m.RegisterItem(ctx, item)
		if err != nil || !accepted {
			return false, err
		}
	}

	m.mu.Lock()
	handler := m.handlers[req.Channel]
	m.mu.Unlock()
	if handler != nil {
		if err := handler(ctx, item); err != nil {
			m.logger.Warn("injection handler failed",
				"channel", req.Channel, "label", req.Label, "error", err)
		}
	}

	m.publishAll(ctx, []model.EpistemicEvent{{
		EventType: model.EventContextInjected,
		AgentID:   m.agentID,
		SessionID: m.sessionID,
		Data: map[string]any{
			"item_id":      item.ID,
			"content_type": string(req.ContentType),
			"zone":         string(req.Zone),
			"tokens":       req.EstimatedTokens,
			"label":        req.Label,
		},
	}})
	return true, nil
}

// DecayPass recomputes priorities, evicts anything below the minimum
// priority threshold, and applies the pressure response.
func (m *Manager) DecayPass(ctx context.Context) {
	now := m.now().UTC()
	var events []model.EpistemicEvent

	m.mu.Lock()
	var stale []model.ContextItem
	for _, it := range m.items {
		if !it.Evictable || it.Zone == model.ZoneAnchor {
			continue
		}
		if it.Priority(now, m.cfg.DecayRate) < m.cfg.MinPriorityThreshold {
			stale = append(stale, *it)
			delete(m.items, it.ID)
			m.evictions++
		}
	}
	if len(stale) > 0 {
		freed := 0
		for _, it := range stale {
			freed += it.EstimatedTokens
		}
		events = append(events, m.evictedEventLocked(freed, freed, "decay", stale))
	}

	// Pressure response: bring utilization down to 70% when over threshold
	// and eviction is configured aggressively.
	used := m.totalUsedLocked()
	utilization := float64(used) / float64(m.cfg.TotalCapacity)
	if utilization >= m.cfg.PressureThreshold && m.cfg.EvictionAggressiveness > 0.5 {
		target := int(0.70 * float64(m.cfg.TotalCapacity))
		candidates := 0
		for _, it := range m.items {
			if it.Evictable && it.Zone != model.ZoneAnchor {
				candidates++
			}
		}
		var evicted []model.ContextItem
		freed := 0
		if used > target && candidates > 0 {
			freed, evicted, _ = m.evictLocked("", used-target)
		}
		events = append(events, model.EpistemicEvent{
			EventType: model.EventMemoryPressure,
			AgentID:   m.agentID,
			SessionID: m.sessionID,
			Data: map[string]any{
				"utilization":         utilization,
				"tokens_freed":        freed,
				"eviction_candidates": candidates,
				"evicted_count":       len(evicted),
			},
		})
	}
	m.mu.Unlock()

	m.publishAll(ctx, events)
}

// GetBudgetReport returns the current snapshot.
func (m *Manager) GetBudgetReport() BudgetReport {
	now := m.now().UTC()

	m.mu.Lock()
	all := make([]model.ContextItem, 0, len(m.items))
	for _, it := range m.items {
		all = append(all, *it)
	}
	pageFaults, evictions := m.pageFaults, m.evictions
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].Priority(now, m.cfg.DecayRate) > all[j].Priority(now, m.cfg.DecayRate)
	})

	report := BudgetReport{
		SessionID:     m.sessionID,
		TotalCapacity: m.cfg.TotalCapacity,
		PageFaults:    pageFaults,
		Evictions:     evictions,
	}
	for _, z := range []model.Zone{model.ZoneAnchor, model.ZoneWorking, model.ZoneCache} {
		zu := ZoneUsage{Zone: z, Capacity: m.zoneCapacity(z)}
		for _, it := range all {
			if it.Zone == z {
				zu.UsedTokens += it.EstimatedTokens
				zu.ItemCount++
			}
		}
		if zu.Capacity > 0 {
			zu.Utilization = float64(zu.UsedTokens) / float64(zu.Capacity)
		}
		report.TotalUsed += zu.UsedTokens
		report.Zones = append(report.Zones, zu)
	}
	if report.TotalCapacity > 0 {
		report.Utilization = float64(report.TotalUsed) / float64(report.TotalCapacity)
	}
	report.UnderPressure = report.Utilization >= m.cfg.PressureThreshold

	const n = 5
	if len(all) <= n {
		report.TopItems = all
		report.BottomItems = nil
	} else {
		report.TopItems = all[:n]
		report.BottomItems = all[len(all)-n:]
	}
	return report
}

func (m *Manager) publishAll(ctx context.Context, events []model.EpistemicEvent) {
	if m.publisher == nil {
		return
	}
	for _, e := range events {
		if err := m.publisher.Publish(ctx, e); err != nil {
			m.logger.Warn("publish failed", "event_type", e.EventType, "error", err)
		}
	}
}

// SaveState persists the inventory snapshot. No-op without a DB.
func (m *Manager) SaveState(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	m.mu.Lock()
	inventory := make([]model.ContextItem, 0, len(m.items))
	for _, it := range m.items {
		inventory = append(inventory, *it)
	}
	pageFaults, evictions := m.pageFaults, m.evictions
	m.mu.Unlock()

	inv, err := json.Marshal(inventory)
	if err != nil {
		return fmt.Errorf("contextbudget: marshal inventory: %w", err)
	}
	thresholds, err := json.Marshal(map[string]any{
		"total_capacity":         m.cfg.TotalCapacity,
		"anchor_reserve":         m.cfg.AnchorReserve,
		"working_set_target":     m.cfg.WorkingSetTarget,
		"cache_limit":            m.cfg.CacheLimit,
		"decay_rate":             m.cfg.DecayRate,
		"min_priority_threshold": m.cfg.MinPriorityThreshold,
		"pressure_threshold":     m.cfg.PressureThreshold,
	})
	if err != nil {
		return fmt.Errorf("contextbudget: marshal thresholds: %w", err)
	}

	now := m.now().UTC()
	return m.db.SaveContextBudgetState(ctx, storage.ContextBudgetState{
		SessionID:      m.sessionID,
		InventoryJSON:  string(inv),
		ThresholdsJSON: string(thresholds),
		PageFaults:     pageFaults,
		Evictions:      evictions,
		CreatedAt:      sqlTime(now),
		UpdatedAt:      sqlTime(now),
	})
}

// LoadState restores a previously saved inventory. Missing state is not an
// error; the manager simply starts empty.
func (m *Manager) LoadState(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	state, err := m.db.LoadContextBudgetState(ctx, m.sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	var inventory []model.ContextItem
	if err := json.Unmarshal([]byte(state.InventoryJSON), &inventory); err != nil {
		return fmt.Errorf("contextbudget: decode inventory: %w", err)
	}

	m.mu.Lock()
	m.items = make(map[string]*model.ContextItem, len(inventory))
	for i := range inventory {
		it := inventory[i]
		m.items[it.ID] = &it
	}
	m.pageFaults = state.PageFaults
	m.evictions = state.Evictions
	m.mu.Unlock()
	return nil
}
