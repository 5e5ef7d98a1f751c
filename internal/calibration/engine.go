// Package calibration maintains the grounded belief track: objective
// evidence is collected per session, mapped onto the epistemic vectors,
// folded into Bayesian posteriors, and compared against self-assessment.
package calibration

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// Pass selects which evidence sources a verification run draws from.
type Pass string

const (
	PassNoetic   Pass = "noetic"
	PassPraxic   Pass = "praxic"
	PassCombined Pass = "combined"
)

// Observation is the evidence-weighted grounded estimate for one vector.
type Observation struct {
	Mean       float64 `json:"mean"`
	Confidence float64 `json:"confidence"`
	Count      int     `json:"count"`
}

// Result is one completed verification run.
type Result struct {
	Pass             Pass                             `json:"pass"`
	SelfAssessed     model.VectorSet                  `json:"self_assessed"`
	Grounded         map[model.VectorName]Observation `json:"grounded"`
	Divergence       map[model.VectorName]float64     `json:"divergence"`
	Corrected        model.VectorSet                  `json:"corrected"`
	Coverage         float64                          `json:"coverage"`
	CalibrationScore float64                          `json:"calibration_score"`
	EvidenceCount    int                              `json:"evidence_count"`
	SourcesAvailable []string                         `json:"sources_available"`
	SourcesFailed    []string                         `json:"sources_failed"`
}

// Engine runs grounded verification passes.
type Engine struct {
	cfg    config.Config
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time

	noetic []Collector
	praxic []Collector
}

// New wires the default collector sets: investigation signals feed the
// noetic pass, outcome signals feed the praxic pass.
func New(cfg config.Config, db *storage.DB, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		noetic: []Collector{
			&ArtifactsCollector{DB: db, ScopeWeightUnscoped: cfg.ScopeWeightUnscoped},
			&SentinelCollector{DB: db},
			&NoeticCollector{DB: db},
		},
		praxic: []Collector{
			&GoalsCollector{DB: db},
			&GitCollector{Dir: cfg.GitDir, Timeout: cfg.GitReadTimeout},
			&TestReportCollector{Paths: []string{
				".empirica/test_report.json",
				"test_report.json",
				"report.json",
			}},
		},
	}
}

func (e *Engine) collectorsFor(pass Pass) []Collector {
	switch pass {
	case PassNoetic:
		return e.noetic
	case PassPraxic:
		return e.praxic
	default:
		return append(append([]Collector{}, e.noetic...), e.praxic...)
	}
}

// GroundVectors maps evidence onto per-vector grounded observations using
// quality-weighted averages. Ungroundable vectors are never produced.
func GroundVectors(items []model.EvidenceItem) map[model.VectorName]Observation {
	sums := map[model.VectorName]float64{}
	weights := map[model.VectorName]float64{}
	counts := map[model.VectorName]int{}

	for _, item := range items {
		for _, v := range item.SupportsVectors {
			if model.UngroundableVectors[v] {
				continue
			}
			w := float64(item.Quality)
			sums[v] += item.NormalizedValue * w
			weights[v] += w
			counts[v]++
		}
	}

	out := map[model.VectorName]Observation{}
	for v, w := range weights {
		if w <= 0 {
			continue
		}
		out[v] = Observation{
			Mean:       sums[v] / w,
			Confidence: math.Min(1, w/float64(counts[v])),
			Count:      counts[v],
		}
	}
	return out
}

// UpdateBelief folds one grounded observation into the prior using the
// precision-weighted conjugate update. Low-confidence evidence widens the
// observation variance so it moves the posterior less.
func (e *Engine) UpdateBelief(prior model.GroundedBelief, obs Observation, source string) model.GroundedBelief {
	obsVar := e.cfg.GroundedObservationVariance / math.Max(obs.Confidence, 0.1)

	post := prior
	post.Mean = (prior.Variance*obs.Mean + obsVar*prior.Mean) / (prior.Variance + obsVar)
	post.Variance = 1 / (1/prior.Variance + 1/obsVar)
	post.EvidenceCount = prior.EvidenceCount + obs.Count
	post.LastObservation = obs.Mean
	post.LastObservationSource = source
	post.LastUpdated = e.now().UTC()
	return post
}

// Run executes one verification pass: collect, ground, update posteriors,
// and persist the trajectory. Collector failures degrade the run, they never
// fail it.
func (e *Engine) Run(ctx context.Context, scope Scope, pass Pass, self model.VectorSet) (Result, error) {
	res := Result{
		Pass:         pass,
		SelfAssessed: self,
		Grounded:     map[model.VectorName]Observation{},
		Divergence:   map[model.VectorName]float64{},
		Corrected:    self,
	}

	var items []model.EvidenceItem
	for _, c := range e.collectorsFor(pass) {
		collected, err := c.Collect(ctx, scope)
		if err != nil {
			e.logger.Warn("evidence source failed", "source", c.Name(), "error", err)
			res.SourcesFailed = append(res.SourcesFailed, c.Name())
			continue
		}
		if len(collected) == 0 {
			continue
		}
		res.SourcesAvailable = append(res.SourcesAvailable, c.Name())
		items = append(items, collected...)
	}
	res.EvidenceCount = len(items)
	res.Grounded = GroundVectors(items)

	groundable := 0
	for _, v := range model.VectorNames {
		if !model.UngroundableVectors[v] {
			groundable++
		}
	}
	if groundable > 0 {
		res.Coverage = float64(len(res.Grounded)) / float64(groundable)
	}

	now := e.now().UTC()
	gapSum := 0.0
	for v, obs := range res.Grounded {
		selfVal := self.Get(v)
		divergence := selfVal - obs.Mean
		res.Divergence[v] = divergence
		gapSum += math.Abs(divergence)

		// Corrections toward the grounded mean are bounded to prevent
		// overcorrection from a single noisy session.
		correction := -divergence
		bound := e.cfg.CalibrationMaxCorrection
		if correction > bound {
			correction = bound
		} else if correction < -bound {
			correction = -bound
		}
		_ = res.Corrected.Set(v, selfVal+correction)

		prior := model.NewGroundedBelief(scope.SessionID, scope.AIID, v)
		if stored, err := e.db.GetGroundedBelief(ctx, scope.AIID, v, string(pass)); err != nil {
			e.logger.Warn("belief load failed", "vector", v, "error", err)
		} else if stored != nil {
			prior = *stored
		}

		post := e.UpdateBelief(prior, obs, "grounded:"+string(pass))
		post.BeliefID = uuid.NewString()
		post.SessionID = scope.SessionID
		post.Phase = string(pass)
		post.SelfReferentialMean = &selfVal
		d := divergence
		post.Divergence = &d
		if err := e.db.UpsertGroundedBelief(ctx, post); err != nil {
			e.logger.Warn("belief persist failed", "vector", v, "error", err)
		}

		gap := math.Abs(divergence)
		grounded := obs.Mean
		point := model.TrajectoryPoint{
			PointID:      uuid.NewString(),
			SessionID:    scope.SessionID,
			AIID:         scope.AIID,
			VectorName:   v,
			SelfAssessed: selfVal,
			Grounded:     &grounded,
			Gap:          &gap,
			Timestamp:    now,
			Phase:        string(pass),
		}
		if err := e.db.InsertTrajectoryPoint(ctx, point); err != nil {
			e.logger.Warn("trajectory persist failed", "vector", v, "error", err)
		}
	}
	if n := len(res.Grounded); n > 0 {
		res.CalibrationScore = 1 - gapSum/float64(n)
	}

	e.persistVerification(ctx, scope, pass, res, now)
	return res, nil
}

// RunPhaseAware runs the noetic pass against the proceed-CHECK vectors and
// the praxic pass against the POSTFLIGHT vectors. Either self-assessment may
// be nil, which skips that pass; with neither, a combined pass runs on the
// postflight default.
func (e *Engine) RunPhaseAware(ctx context.Context, scope Scope, checkVectors, postflightVectors *model.VectorSet) (noetic, praxic *Result, err error) {
	if checkVectors == nil && postflightVectors == nil {
		combined, runErr := e.Run(ctx, scope, PassCombined, model.DefaultVectors())
		if runErr != nil {
			return nil, nil, runErr
		}
		return nil, &combined, nil
	}
	if checkVectors != nil {
		r, runErr := e.Run(ctx, scope, PassNoetic, *checkVectors)
		if runErr != nil {
			return nil, nil, runErr
		}
		noetic = &r
	}
	if postflightVectors != nil {
		r, runErr := e.Run(ctx, scope, PassPraxic, *postflightVectors)
		if runErr != nil {
			return noetic, nil, runErr
		}
		praxic = &r
	}
	return noetic, praxic, nil
}

func (e *Engine) persistVerification(ctx context.Context, scope Scope, pass Pass, res Result, now time.Time) {
	marshal := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
	v := storage.GroundedVerification{
		VerificationID:          uuid.NewString(),
		SessionID:               scope.SessionID,
		AIID:                    scope.AIID,
		SelfAssessedVectorsJSON: marshal(res.SelfAssessed.ToMap()),
		GroundedVectorsJSON:     marshal(res.Grounded),
		CalibrationGapsJSON:     marshal(res.Divergence),
		GroundedCoverage:        res.Coverage,
		OverallCalibrationScore: res.CalibrationScore,
		EvidenceCount:           res.EvidenceCount,
		SourcesAvailableJSON:    marshal(res.SourcesAvailable),
		SourcesFailedJSON:       marshal(res.SourcesFailed),
		Phase:                   string(pass),
		CreatedAt:               now,
	}
	if err := e.db.InsertVerification(ctx, v); err != nil {
		e.logger.Warn("verification persist failed", "session_id", scope.SessionID, "error", err)
	}
}

// TrajectoryDirection fits a least-squares line through the absolute gaps of
// the last lookback points and classifies the slope.
func (e *Engine) TrajectoryDirection(ctx context.Context, aiID string, vector model.VectorName) (model.TrajectoryDirection, error) {
	points, err := e.db.RecentTrajectory(ctx, aiID, vector, e.cfg.TrajectoryLookback)
	if err != nil {
		return model.TrajectoryStable, err
	}
	var gaps []float64
	for _, p := range points {
		if p.Gap != nil {
			gaps = append(gaps, *p.Gap)
		}
	}
	slope := regressionSlope(gaps)
	switch {
	case slope < -0.01:
		return model.TrajectoryClosing, nil
	case slope > 0.01:
		return model.TrajectoryWidening, nil
	default:
		return model.TrajectoryStable, nil
	}
}

// regressionSlope is the least-squares slope of y over index 0..n-1.
// Fewer than two points have no trend.
func regressionSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// SortedVectors returns the grounded vector names of a result in canonical
// order, for stable report rendering.
func (r Result) SortedVectors() []model.VectorName {
	out := make([]model.VectorName, 0, len(r.Grounded))
	for v := range r.Grounded {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
