// Package empirica is the public API for embedding the epistemic kernel.
//
// Agent harnesses import this package to construct and drive the kernel
// without forking it:
//
//	kernel, err := empirica.New(
//	    empirica.WithVersion(version),
//	    empirica.WithLogger(logger),
//	    empirica.WithEventHook(myHarnessHook{}),
//	)
//	if err != nil { ... }
//	sess, err := kernel.StartSession(ctx, userPrompt)
//	...
//	if err := kernel.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: empirica (root) imports
// internal/*, but internal/* never imports empirica (root). Public types
// (Event, CheckResult, Status, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package empirica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/empirica-ai/empirica/internal/attention"
	"github.com/empirica-ai/empirica/internal/bus"
	"github.com/empirica-ai/empirica/internal/calibration"
	"github.com/empirica-ai/empirica/internal/cascade"
	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/contextbudget"
	"github.com/empirica-ai/empirica/internal/dashboard"
	"github.com/empirica-ai/empirica/internal/gitnotes"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/orchestrator"
	"github.com/empirica-ai/empirica/internal/rollup"
	"github.com/empirica-ai/empirica/internal/search"
	"github.com/empirica-ai/empirica/internal/service/embedding"
	"github.com/empirica-ai/empirica/internal/storage"
	"github.com/empirica-ai/empirica/internal/telemetry"
	"github.com/empirica-ai/empirica/internal/trust"
)

// Kernel is the epistemic kernel lifecycle. Construct with New(), run
// background workers with Run(). Kernel has no public fields — use New()
// options to configure it.
type Kernel struct {
	cfg          config.Config
	db           *storage.DB
	bus          *bus.Bus
	observer     *bus.SQLiteObserver
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	outbox       *search.OutboxWorker
	embedder     embedding.Provider
	machine      *cascade.Machine
	allocator    *attention.Allocator
	gate         *rollup.Gate
	orch         *orchestrator.Orchestrator
	engine       *calibration.Engine
	notes        *gitnotes.Store
	signer       *gitnotes.Signer
	sentinel     *trust.Sentinel
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the kernel. It opens the database, runs migrations, wires
// all subsystems, and returns a ready-to-use Kernel. It does NOT start any
// goroutines — call Run() for the background workers.
func New(opts ...Option) (*Kernel, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.aiID != "" {
		cfg.AIID = o.aiID
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.gitDir != "" {
		cfg.GitDir = o.gitDir
	}
	if o.qdrantURL != "" {
		cfg.QdrantURL = o.qdrantURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("empirica starting", "version", version, "ai_id", cfg.AIID, "db", cfg.DatabasePath)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the durable store and run migrations.
	db, err := storage.Open(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Create embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = o.embeddingProvider
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Initialize Qdrant vector index and outbox worker.
	var qdrantIndex *search.QdrantIndex
	var outboxWorker *search.OutboxWorker
	if cfg.QdrantURL != "" {
		var idxErr error
		qdrantIndex, idxErr = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, logger)
		if idxErr != nil {
			_ = db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", idxErr)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			_ = db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		outboxWorker = search.NewOutboxWorker(db, qdrantIndex, embedder, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Event bus with the durable SQLite observer.
	eventBus := bus.New(logger)
	observer := bus.NewSQLiteObserver(db, cfg.NodeID, logger,
		bus.WithBatchSize(cfg.EventBufferSize),
		bus.WithFlushInterval(cfg.EventFlushTimeout),
		bus.WithOutboxEnqueue(qdrantIndex != nil),
	)
	eventBus.Subscribe(observer)
	for _, h := range o.eventHooks {
		eventBus.Subscribe(&eventHookAdapter{hook: h})
	}

	// Git-notes store and message signer.
	notes := gitnotes.New(cfg, logger)
	signer, err := gitnotes.NewSigner(cfg.SigningKeyPath, cfg.VerifyKeyPath)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("signer: %w", err)
	}

	allocator := attention.New(cfg)
	engine := calibration.New(cfg, db, logger)

	// The rollup gate runs its semantic dedupe pass only when a vector
	// backend is wired.
	var gateOpts []rollup.Option
	if qdrantIndex != nil {
		gateOpts = append(gateOpts, rollup.WithSemanticIndex(qdrantIndex, embedder))
	}

	return &Kernel{
		cfg:          cfg,
		db:           db,
		bus:          eventBus,
		observer:     observer,
		qdrantIndex:  qdrantIndex,
		outbox:       outboxWorker,
		embedder:     embedder,
		machine:      cascade.New(cfg, db, eventBus, logger),
		allocator:    allocator,
		gate:         rollup.New(cfg, db, logger, gateOpts...),
		orch:         orchestrator.New(cfg, db, allocator, logger),
		engine:       engine,
		notes:        notes,
		signer:       signer,
		sentinel:     trust.New(db, engine, logger),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Version returns the version string set via WithVersion ("dev" by default).
func (k *Kernel) Version() string { return k.version }

// Run starts the background workers and blocks until ctx is cancelled. On
// return, Shutdown is called automatically — callers should not call
// Shutdown separately.
func (k *Kernel) Run(ctx context.Context) error {
	if k.outbox != nil {
		k.outbox.Start(ctx)
	}
	<-ctx.Done()
	return k.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown:
// (1) drain the event observer to SQLite,
// (2) drain remaining outbox entries to Qdrant.
// It then closes the vector index, the database, and the OTEL provider.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.logger.Info("empirica shutting down")

	if err := k.observer.Drain(ctx); err != nil {
		k.logger.Error("event drain incomplete, unflushed events will be lost", "error", err)
	}
	if k.outbox != nil {
		k.outbox.Drain(ctx)
	}
	if k.qdrantIndex != nil {
		_ = k.qdrantIndex.Close()
	}
	_ = k.otelShutdown(context.Background())
	if err := k.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	k.logger.Info("empirica stopped")
	return nil
}

// Session is the live handle for one cascade. All methods are driven by the
// harness; the kernel enforces the phase protocol underneath.
type Session struct {
	k       *Kernel
	st      *cascade.State
	budget  *contextbudget.Manager
	logID   string // git-notes cascade log transaction
	started time.Time
}

// StartSession opens a new session and its PREFLIGHT baseline.
func (k *Kernel) StartSession(ctx context.Context, userPrompt string) (*Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if err := k.db.CreateSession(ctx, model.Session{
		SessionID: id,
		AIID:      k.cfg.AIID,
		StartTime: now,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	st, err := k.machine.StartCascade(ctx, id, k.cfg.AIID, userPrompt)
	if err != nil {
		return nil, err
	}

	s := &Session{
		k:       k,
		st:      st,
		budget:  contextbudget.New(k.cfg, k.bus, k.db, k.logger, id, k.cfg.AIID),
		logID:   uuid.NewString(),
		started: now,
	}
	k.bus.Subscribe(s.budget)
	s.appendCascadeLog(ctx, "PREFLIGHT", map[string]any{"user_prompt": userPrompt})
	return s, nil
}

// ResumeSession rebuilds a session handle from persisted reflexes after a
// process restart. Returns ErrNoSession when nothing was recorded.
func (k *Kernel) ResumeSession(ctx context.Context, sessionID string) (*Session, error) {
	st, err := k.machine.Resume(ctx, sessionID, k.cfg.AIID)
	if err != nil {
		return nil, err
	}
	row, err := k.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		k:       k,
		st:      st,
		budget:  contextbudget.New(k.cfg, k.bus, k.db, k.logger, sessionID, k.cfg.AIID),
		logID:   uuid.NewString(),
		started: row.StartTime,
	}
	if err := s.budget.LoadState(ctx); err != nil {
		k.logger.Warn("context budget state not restored", "session_id", sessionID, "error", err)
	}
	k.bus.Subscribe(s.budget)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.st.SessionID }

// Check records one CHECK round and returns the gate decision.
func (s *Session) Check(ctx context.Context, summary string, confidence float64, gaps []string) (CheckResult, error) {
	dec, err := s.k.machine.SubmitCheck(ctx, s.st, summary, confidence, gaps)
	if err != nil {
		return CheckResult{}, err
	}
	s.appendCascadeLog(ctx, "CHECK", dec)
	return CheckResult{
		Decision:    string(dec.Decision),
		Confidence:  dec.Confidence,
		Cycle:       dec.Cycle,
		NextTargets: dec.NextTargets,
		Reasoning:   dec.Reasoning,
	}, nil
}

// Act records the ACT transition. The trust sentinel gates high-impact
// actions: a refusal reports what would unlock it and wraps
// ErrPhaseViolation.
func (s *Session) Act(ctx context.Context, actionSummary string, impact float64) error {
	assessment, err := s.k.sentinel.Assess(ctx, s.st.SessionID, s.k.cfg.AIID)
	if err != nil {
		return fmt.Errorf("trust assessment: %w", err)
	}
	if allowed, reason := trust.GateAction(assessment, impact); !allowed {
		return fmt.Errorf("act gated by sentinel: %s: %w", reason, ErrPhaseViolation)
	}
	if err := s.k.machine.ExecuteAct(ctx, s.st, actionSummary); err != nil {
		return err
	}
	s.appendCascadeLog(ctx, "ACT", map[string]any{"action": actionSummary, "impact": impact})
	return nil
}

// Postflight closes the session: records the final self-assessment, computes
// the calibration verdict, and runs the praxic grounded-calibration pass
// against real evidence. POSTFLIGHT is terminal.
func (s *Session) Postflight(ctx context.Context, taskSummary string, selfAssessment map[string]float64, learningNotes string) (PostflightResult, error) {
	vectors, err := model.VectorsFromMap(selfAssessment)
	if err != nil {
		return PostflightResult{}, fmt.Errorf("postflight vectors: %w", err)
	}

	report, err := s.k.machine.SubmitPostflight(ctx, s.st, taskSummary, vectors, learningNotes)
	if err != nil {
		return PostflightResult{}, err
	}
	s.appendCascadeLog(ctx, "POSTFLIGHT", report)

	out := PostflightResult{
		Delta:         report.Delta,
		Verdict:       string(report.Verdict),
		ConfidenceGap: report.ConfidenceGap,
		LearningNotes: report.LearningNotes,
	}

	// Ground the self-assessment against praxic evidence. Failure degrades
	// the result, it never fails the close.
	scope := calibration.Scope{SessionID: s.st.SessionID, AIID: s.k.cfg.AIID, SessionStart: s.started}
	if res, err := s.k.engine.Run(ctx, scope, calibration.PassPraxic, vectors); err != nil {
		s.k.logger.Warn("grounded calibration skipped", "session_id", s.st.SessionID, "error", err)
	} else {
		score := res.CalibrationScore
		out.CalibrationScore = &score
	}
	return out, nil
}

// Investigate runs the parallel investigation loop for one task: plan
// assignments across detected domains, run rounds through the runner, filter
// findings through the rollup gate, and stop when the regulator says so.
// Accepted findings are persisted so later sessions see them as priors.
func (s *Session) Investigate(ctx context.Context, task string, runner AgentRunner) (Investigation, error) {
	plan, err := s.k.orch.Plan(ctx, s.st.SessionID, task, nil, 0, &s.st.PreflightVectors)
	if err != nil {
		return Investigation{}, err
	}

	adapter := runnerAdapter{runner: runner}
	remaining := plan.Budget.TotalBudget
	var accepted []string
	var all []orchestrator.AgentResult
	var stop orchestrator.RegulationDecision

	for round := 1; ; round++ {
		results, err := s.k.orch.RunRound(ctx, adapter, plan)
		timedOut := errors.Is(err, ErrTimeout)
		if err != nil && !timedOut {
			return Investigation{}, err
		}
		// A timed-out round keeps whatever the finished agents reported.
		all = append(all, results...)

		roundResult := rollup.Result{BudgetRemaining: remaining}
		for _, r := range results {
			if r.Err != nil || len(r.Findings) == 0 {
				continue
			}
			gr, err := s.k.gate.Process(ctx, rollup.Input{
				SessionID:       s.st.SessionID,
				BudgetID:        &plan.Budget.ID,
				AgentName:       r.AgentName,
				Domain:          r.Domain,
				Confidence:      r.Confidence,
				RawFindings:     r.Findings,
				Existing:        accepted,
				BudgetRemaining: remaining,
				DomainRelevance: 1.0,
			})
			if err != nil {
				s.k.logger.Warn("rollup failed", "agent", r.AgentName, "error", err)
				continue
			}
			remaining -= gr.BudgetConsumed
			roundResult.Accepted = append(roundResult.Accepted, gr.Accepted...)
			for _, f := range gr.Accepted {
				accepted = append(accepted, f.FindingText)
				s.persistFinding(ctx, f)
			}
		}
		roundResult.BudgetRemaining = remaining

		syn := s.k.orch.Aggregate(all)
		stop = s.k.orch.Regulate(roundResult, round, &syn.Vectors)
		if timedOut {
			stop = orchestrator.RegulationDecision{
				Action: orchestrator.ActionStop, Reason: "round timeout", Round: round,
			}
		}
		if stop.Action == orchestrator.ActionStop {
			if stop.Reason == "budget exhausted" {
				s.publish(ctx, model.EventBudgetExhausted, map[string]any{"budget_id": plan.Budget.ID})
			}
			break
		}
	}

	syn := s.k.orch.Aggregate(all)
	return Investigation{
		Task:             task,
		Rounds:           stop.Round,
		Findings:         accepted,
		Vectors:          syn.Vectors.ToMap(),
		ConsensusDomains: syn.ConsensusDomains,
		ConflictDomains:  syn.ConflictDomains,
		BudgetRemaining:  remaining,
		StopReason:       stop.Reason,
	}, nil
}

// Suggest records an improvement proposal for later human review.
func (s *Session) Suggest(ctx context.Context, text, domain string, confidence float64) (string, error) {
	sg := model.Suggestion{
		ID:               uuid.NewString(),
		SessionID:        s.st.SessionID,
		Suggestion:       text,
		Confidence:       confidence,
		Status:           model.SuggestionPending,
		CreatedTimestamp: time.Now().UTC(),
	}
	if domain != "" {
		sg.Domain = &domain
	}
	if err := s.k.db.InsertSuggestion(ctx, sg); err != nil {
		return "", err
	}
	return sg.ID, nil
}

// WriteHandoff persists a structured handoff report into the git-notes
// handoff namespace so the next session can pick up where this one stopped.
func (s *Session) WriteHandoff(ctx context.Context, h Handoff) error {
	h.SessionID = s.st.SessionID
	h.AIID = s.k.cfg.AIID
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	return s.k.notes.Put(ctx, string(payload), s.k.cfg.HandoffNamespace, s.st.SessionID)
}

// Status aggregates the kernel subsystems into one snapshot. Sections that
// could not be read are zero-valued and named in DegradedSections.
func (s *Session) Status(ctx context.Context) Status {
	var health dashboard.VectorHealth
	if s.k.qdrantIndex != nil {
		health = qdrantHealth{idx: s.k.qdrantIndex}
	}
	d := dashboard.New(s.k.db, s.k.bus, s.budget, s.k.sentinel, health, s.k.logger)
	st := d.GetSystemStatus(ctx, s.st.SessionID, s.k.cfg.AIID)

	out := Status{
		Timestamp:            st.Timestamp,
		SessionID:            st.SessionID,
		AgentID:              st.AgentID,
		Phase:                string(st.Phase),
		CheckRounds:          st.CheckRounds,
		LastDecision:         string(st.LastDecision),
		EventsPublished:      st.EventsPublished,
		ObserverCount:        st.ObserverCount,
		GroundedBeliefs:      st.GroundedBeliefs,
		VectorBackendHealthy: st.VectorBackendHealthy,
		DegradedSections:     st.DegradedSections,
	}
	if len(st.EventsByType) > 0 {
		out.EventsByType = make(map[string]int, len(st.EventsByType))
		for t, n := range st.EventsByType {
			out.EventsByType[string(t)] = n
		}
	}
	if st.ContextBudget != nil {
		out.ContextTokensUsed = st.ContextBudget.TotalUsed
		out.ContextTokensCapacity = st.ContextBudget.TotalCapacity
		out.ContextUtilization = st.ContextBudget.Utilization
		out.ContextUnderPressure = st.ContextBudget.UnderPressure
	}
	if st.Trust != nil {
		out.TrustLevel = string(st.Trust.Level)
		out.TrustRationale = st.Trust.Rationale
	}
	return out
}

// SendMessage writes an agent-to-agent message into the git-notes message
// channel, signing it when a signing key is configured.
func (k *Kernel) SendMessage(ctx context.Context, m Message) (string, error) {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.Channel == "" {
		m.Channel = k.cfg.MessageChannel
	}
	internal := toInternalMessage(m, k.cfg.AIID)
	if err := k.notes.SendMessage(ctx, internal); err != nil {
		return "", err
	}
	if err := k.notes.SignAndStore(ctx, k.signer, internal); err != nil {
		k.logger.Debug("message signature not stored", "message_id", m.MessageID, "error", err)
	}
	return m.MessageID, nil
}

// Inbox lists unexpired messages addressed to this agent on the given
// channel (all channels when empty). Messages whose stored signature fails
// verification are marked untrusted, never dropped.
func (k *Kernel) Inbox(ctx context.Context, channel string) ([]Message, error) {
	msgs, err := k.notes.Inbox(ctx, k.cfg.AIID, gitnotes.InboxFilter{Channel: channel})
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		pub := toPublicMessage(m)
		if err := k.notes.VerifyStored(ctx, k.signer, m); err == nil {
			pub.Verified = true
		}
		out = append(out, pub)
	}
	return out, nil
}

// MarkMessageRead marks a message as read by this agent. Idempotent.
func (k *Kernel) MarkMessageRead(ctx context.Context, channel, messageID string) error {
	return k.notes.MarkMessageRead(ctx, channel, messageID, k.cfg.AIID)
}

// QuerySemantic embeds the query text and returns the most similar indexed
// events, newest events included once the outbox has synced them. eventType
// narrows the search to one event type; empty matches all. Returns
// ErrCapabilityUnavailable when no vector backend is configured.
func (k *Kernel) QuerySemantic(ctx context.Context, queryText string, limit int, eventType string) ([]EventMatch, error) {
	if k.qdrantIndex == nil {
		return nil, fmt.Errorf("semantic query: no vector backend configured: %w", ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("semantic query: empty query: %w", ErrBadInput)
	}

	emb, err := k.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("semantic query: embed: %w", err)
	}
	hits, err := k.qdrantIndex.QuerySemantic(ctx, emb,
		search.QueryFilters{EventType: model.EventType(eventType)}, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.EventID
	}
	events, err := k.db.GetEventsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]EventMatch, 0, len(hits))
	for _, h := range hits {
		e, ok := events[h.EventID]
		if !ok {
			continue // indexed but since purged from SQLite
		}
		var data map[string]any
		_ = json.Unmarshal([]byte(e.DataJSON), &data)
		out = append(out, EventMatch{
			Event: Event{
				Type:      string(e.EventType),
				SessionID: e.SessionID,
				AgentID:   e.AgentID,
				Timestamp: e.Timestamp,
				Data:      data,
			},
			Score: h.Score,
		})
	}
	return out, nil
}

// publish sends one event on the bus, logging failures.
func (s *Session) publish(ctx context.Context, typ model.EventType, data map[string]any) {
	err := s.k.bus.Publish(ctx, model.EpistemicEvent{
		EventType: typ,
		AgentID:   s.k.cfg.AIID,
		SessionID: s.st.SessionID,
		Data:      data,
	})
	if err != nil {
		s.k.logger.Warn("event publish failed", "event_type", typ, "error", err)
	}
}

// appendCascadeLog mirrors a phase transition into the git-notes cascade
// log. Best effort: a missing git repository only degrades the mirror.
func (s *Session) appendCascadeLog(ctx context.Context, label string, payload any) {
	if err := s.k.notes.AppendCascade(ctx, s.st.SessionID, s.logID, label, payload); err != nil {
		s.k.logger.Debug("cascade log append failed", "session_id", s.st.SessionID, "error", err)
	}
}

// persistFinding stores one accepted finding so future planning sees it as a
// prior. Best effort.
func (s *Session) persistFinding(ctx context.Context, f model.ScoredFinding) {
	domain := f.Domain
	if err := s.k.db.InsertFinding(ctx, model.Finding{
		ID:               uuid.NewString(),
		SessionID:        s.st.SessionID,
		Finding:          f.FindingText,
		Impact:           f.Score,
		Subject:          &domain,
		CreatedTimestamp: time.Now().UTC(),
	}); err != nil {
		s.k.logger.Warn("finding persist failed", "session_id", s.st.SessionID, "error", err)
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────

// eventHookAdapter wraps a public EventHook to satisfy bus.Observer.
type eventHookAdapter struct {
	hook EventHook
}

func (a *eventHookAdapter) Name() string { return a.hook.Name() }

func (a *eventHookAdapter) OnEvent(ctx context.Context, e model.EpistemicEvent) error {
	return a.hook.OnEvent(ctx, Event{
		Type:      string(e.EventType),
		SessionID: e.SessionID,
		AgentID:   e.AgentID,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	})
}

// runnerAdapter wraps a public AgentRunner to satisfy orchestrator.Runner.
// It converts between public and internal assignment/result types.
type runnerAdapter struct {
	runner AgentRunner
}

func (a runnerAdapter) Investigate(ctx context.Context, as orchestrator.Assignment) (orchestrator.AgentResult, error) {
	report, err := a.runner.Investigate(ctx, AgentAssignment{
		AgentName: as.AgentName,
		Persona:   as.Persona,
		Domain:    as.Domain,
		SubTask:   as.SubTask,
		Budget:    as.Budget,
	})
	if err != nil {
		return orchestrator.AgentResult{}, err
	}
	vectors := model.DefaultVectors()
	if len(report.Vectors) > 0 {
		if v, verr := model.VectorsFromMap(report.Vectors); verr == nil {
			vectors = v
		}
	}
	return orchestrator.AgentResult{
		AgentName:  as.AgentName,
		Domain:     as.Domain,
		Findings:   report.Findings,
		Confidence: report.Confidence,
		Vectors:    vectors,
	}, nil
}

// qdrantHealth adapts the index health check to the dashboard's bool view.
type qdrantHealth struct {
	idx *search.QdrantIndex
}

func (q qdrantHealth) Healthy(ctx context.Context) bool {
	return q.idx.Healthy(ctx) == nil
}

// ── Helpers ────────────────────────────────────────────────────────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when EMPIRICA_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ── Type converters ────────────────────────────────────────────────────────

func toInternalMessage(m Message, fromAIID string) model.AgentMessage {
	from := m.From
	if from == "" {
		from = fromAIID
	}
	return model.AgentMessage{
		MessageID:  m.MessageID,
		Channel:    m.Channel,
		From:       model.MessageEndpoint{AIID: from},
		To:         model.MessageEndpoint{AIID: m.To},
		Subject:    m.Subject,
		Body:       m.Body,
		Type:       model.MessageType(m.Type),
		Timestamp:  m.Timestamp,
		ReplyTo:    m.ReplyTo,
		ThreadID:   m.ThreadID,
		TTLSeconds: m.TTLSeconds,
		Priority:   m.Priority,
	}
}

func toPublicMessage(m model.AgentMessage) Message {
	return Message{
		MessageID:  m.MessageID,
		Channel:    m.Channel,
		From:       m.From.AIID,
		To:         m.To.AIID,
		Subject:    m.Subject,
		Body:       m.Body,
		Type:       string(m.Type),
		Timestamp:  m.Timestamp,
		ReplyTo:    m.ReplyTo,
		ThreadID:   m.ThreadID,
		TTLSeconds: m.TTLSeconds,
		Priority:   m.Priority,
		Status:     m.Status,
		ReadBy:     m.ReadBy,
	}
}
