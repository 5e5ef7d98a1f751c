// Package rollup implements the quality gate that filters sub-agent findings
// before they merge into the parent session: score, deduplicate, then accept
// against the attention budget.
package rollup

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/search"
	"github.com/empirica-ai/empirica/internal/service/embedding"
	"github.com/empirica-ai/empirica/internal/storage"
)

// SemanticIndex is the vector backend consulted during the optional semantic
// dedupe pass. Satisfied by *search.QdrantIndex.
type SemanticIndex interface {
	QuerySemantic(ctx context.Context, embedding []float32, filters search.QueryFilters, limit int) ([]search.Result, error)
	Healthy(ctx context.Context) error
}

// Gate scores and filters findings.
type Gate struct {
	minScore          float64
	jaccardThreshold  float64
	semanticThreshold float64
	semanticIndex     SemanticIndex
	embedder          embedding.Provider
	db                *storage.DB
	logger            *slog.Logger
	now               func() time.Time
}

// Option adjusts gate construction.
type Option func(*Gate)

// WithSemanticIndex enables the semantic dedupe pass against the vector
// backend. The pass is skipped whenever the backend is unreachable.
func WithSemanticIndex(idx SemanticIndex, embedder embedding.Provider) Option {
	return func(g *Gate) {
		g.semanticIndex = idx
		g.embedder = embedder
	}
}

// New creates a gate. db may be nil to disable decision logging.
func New(cfg config.Config, db *storage.DB, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		minScore:          cfg.RollupMinScore,
		jaccardThreshold:  cfg.RollupJaccardThreshold,
		semanticThreshold: cfg.RollupSemanticThreshold,
		db:                db,
		logger:            logger,
		now:               time.Now,
	}
	if g.semanticThreshold <= 0 {
		g.semanticThreshold = 0.9
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Input is one rollup pass.
type Input struct {
	SessionID       string
	BudgetID        *string
	AgentName       string
	Domain          string
	Confidence      float64
	RawFindings     []string
	Existing        []string
	BudgetRemaining int
	DomainRelevance float64
}

// Result reports the gate's decisions for one pass.
type Result struct {
	Accepted        []model.ScoredFinding `json:"accepted"`
	Rejected        []model.ScoredFinding `json:"rejected"`
	TotalScore      float64               `json:"total_score"`
	BudgetConsumed  int                   `json:"budget_consumed"`
	BudgetRemaining int                   `json:"budget_remaining"`
	AcceptanceRate  float64               `json:"acceptance_rate"`
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "with": true, "this": true, "that": true, "from": true,
	"has": true, "have": true, "was": true, "were": true, "its": true,
	"can": true, "will": true, "all": true, "into": true, "when": true,
	"than": true, "then": true, "there": true, "their": true, "which": true,
}

// tokenize lowercases and splits text into 3+ character word tokens,
// excluding stop words.
func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

// jaccard is the set similarity of two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// novelty returns 1 − the maximum Jaccard similarity of candidate against
// existing findings. 1.0 when nothing exists yet.
func novelty(candidate map[string]bool, existing []map[string]bool) float64 {
	maxSim := 0.0
	for _, e := range existing {
		if sim := jaccard(candidate, e); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

// Process runs the full pipeline: score, dedupe, gate. Every decision is
// logged to the rollup log table when a DB is configured.
func (g *Gate) Process(ctx context.Context, in Input) (Result, error) {
	existingTokens := make([]map[string]bool, len(in.Existing))
	for i, e := range in.Existing {
		existingTokens[i] = tokenize(e)
	}

	// Score.
	scored := make([]model.ScoredFinding, 0, len(in.RawFindings))
	for _, text := range in.RawFindings {
		if strings.TrimSpace(text) == "" {
			continue
		}
		tokens := tokenize(text)
		nov := novelty(tokens, existingTokens)
		f := model.ScoredFinding{
			FindingText:     text,
			AgentName:       in.AgentName,
			Domain:          in.Domain,
			Confidence:      in.Confidence,
			Novelty:         nov,
			DomainRelevance: in.DomainRelevance,
			Score:           in.Confidence * nov * in.DomainRelevance,
			FindingHash:     model.ContentHash(text),
		}
		scored = append(scored, f)
	}

	// Dedupe by content hash: keep the highest scored copy per hash.
	byHash := map[string]int{}
	var kept []model.ScoredFinding
	var rejected []model.ScoredFinding
	for _, f := range scored {
		idx, seen := byHash[f.FindingHash]
		if !seen {
			byHash[f.FindingHash] = len(kept)
			kept = append(kept, f)
			continue
		}
		if f.Score > kept[idx].Score {
			loser := kept[idx]
			loser.RejectReason = "Duplicate (hash)"
			rejected = append(rejected, loser)
			kept[idx] = f
		} else {
			f.RejectReason = "Duplicate (hash)"
			rejected = append(rejected, f)
		}
	}

	// Optional semantic pass: drop candidates already present in the vector
	// index for this session. Skipped when no backend is wired.
	if g.semanticIndex != nil && g.embedder != nil {
		kept = g.semanticPass(ctx, in.SessionID, kept, &rejected)
	}

	// Dedupe near-identical text by Jaccard similarity: keep the higher
	// scored of each pair.
	var deduped []model.ScoredFinding
	for _, f := range kept {
		tokens := tokenize(f.FindingText)
		dup := -1
		for i, k := range deduped {
			if jaccard(tokens, tokenize(k.FindingText)) >= g.jaccardThreshold {
				dup = i
				break
			}
		}
		if dup < 0 {
			deduped = append(deduped, f)
			continue
		}
		if f.Score > deduped[dup].Score {
			loser := deduped[dup]
			loser.RejectReason = "Duplicate (similar)"
			rejected = append(rejected, loser)
			deduped[dup] = f
		} else {
			f.RejectReason = "Duplicate (similar)"
			rejected = append(rejected, f)
		}
	}

	// Gate: best first, accept while the score clears the bar and budget
	// remains.
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})

	res := Result{BudgetRemaining: in.BudgetRemaining}
	for _, f := range deduped {
		switch {
		case f.Score < g.minScore:
			f.RejectReason = "Below min_score"
			res.Rejected = append(res.Rejected, f)
		case res.BudgetConsumed >= in.BudgetRemaining:
			f.RejectReason = "Budget exhausted"
			res.Rejected = append(res.Rejected, f)
		default:
			f.Accepted = true
			res.Accepted = append(res.Accepted, f)
			res.TotalScore += f.Score
			res.BudgetConsumed++
		}
	}
	res.Rejected = append(res.Rejected, rejected...)
	res.BudgetRemaining = in.BudgetRemaining - res.BudgetConsumed
	if total := len(res.Accepted) + len(res.Rejected); total > 0 {
		res.AcceptanceRate = float64(len(res.Accepted)) / float64(total)
	}

	if g.db != nil {
		all := append(append([]model.ScoredFinding{}, res.Accepted...), res.Rejected...)
		if err := g.db.InsertRollupLogs(ctx, in.SessionID, in.BudgetID, all, g.now().UTC()); err != nil {
			g.logger.Warn("rollup log write failed", "session_id", in.SessionID, "error", err)
		}
	}
	return res, nil
}

// semanticPass drops candidates whose embeddings match an event already
// indexed for this session above the similarity threshold. Any backend
// failure skips the pass; dedupe then relies on the lexical passes alone.
func (g *Gate) semanticPass(ctx context.Context, sessionID string, kept []model.ScoredFinding, rejected *[]model.ScoredFinding) []model.ScoredFinding {
	if len(kept) == 0 {
		return kept
	}
	if err := g.semanticIndex.Healthy(ctx); err != nil {
		g.logger.Debug("semantic dedupe skipped, backend unavailable", "error", err)
		return kept
	}

	texts := make([]string, len(kept))
	for i, f := range kept {
		texts[i] = f.FindingText
	}
	embeddings, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		g.logger.Warn("semantic dedupe skipped, embed failed", "error", err)
		return kept
	}

	out := kept[:0:0]
	for i, f := range kept {
		hits, err := g.semanticIndex.QuerySemantic(ctx, embeddings[i], search.QueryFilters{SessionID: sessionID}, 1)
		if err != nil {
			g.logger.Warn("semantic dedupe query failed", "error", err)
			out = append(out, f)
			continue
		}
		if len(hits) > 0 && float64(hits[0].Score) >= g.semanticThreshold {
			f.RejectReason = "Duplicate (semantic)"
			*rejected = append(*rejected, f)
			continue
		}
		out = append(out, f)
	}
	return out
}
