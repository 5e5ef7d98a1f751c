package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/storage"
)

// Scope identifies the session under verification. SessionStart bounds the
// git evidence window.
type Scope struct {
	SessionID    string
	AIID         string
	SessionStart time.Time
}

// Collector produces objective evidence for one source. Collectors are
// independent and failure-tolerant: an error skips the source, it never
// aborts the verification.
type Collector interface {
	Name() string
	Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// GoalsCollector grounds completion and estimation vectors in goal and
// subtask outcomes.
type GoalsCollector struct {
	DB *storage.DB
}

func (c *GoalsCollector) Name() string { return "goals" }

func (c *GoalsCollector) Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error) {
	goals, err := c.DB.ListGoals(ctx, s.SessionID, "")
	if err != nil {
		return nil, fmt.Errorf("calibration: goals: %w", err)
	}
	if len(goals) == 0 {
		return nil, nil
	}

	totalSubtasks, completedSubtasks := 0, 0
	estimationAccuracySum, estimated := 0.0, 0
	for _, g := range goals {
		subtasks, err := c.DB.ListSubtasks(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("calibration: subtasks: %w", err)
		}
		for _, st := range subtasks {
			totalSubtasks++
			if st.Completed() {
				completedSubtasks++
			}
			if st.Completed() && st.EstimatedTokens != nil && st.ActualTokens != nil && *st.EstimatedTokens > 0 {
				miss := math.Abs(float64(*st.ActualTokens-*st.EstimatedTokens)) / float64(*st.EstimatedTokens)
				estimationAccuracySum += clamp01(1 - miss)
				estimated++
			}
		}
	}

	var items []model.EvidenceItem
	if totalSubtasks > 0 {
		ratio := float64(completedSubtasks) / float64(totalSubtasks)
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "subtask_completion_ratio",
			NormalizedValue: ratio,
			RawValue:        float64(completedSubtasks),
			Quality:         model.QualityObjective,
			SupportsVectors: []model.VectorName{model.VectorCompletion, model.VectorDo},
		})
	}
	if estimated > 0 {
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "token_estimation_accuracy",
			NormalizedValue: estimationAccuracySum / float64(estimated),
			RawValue:        float64(estimated),
			Quality:         model.QualitySemiObjective,
			SupportsVectors: []model.VectorName{model.VectorContext},
		})
	}
	return items, nil
}

// ArtifactsCollector grounds knowledge vectors in the session's epistemic
// artifacts: unknown resolution, productive exploration, and mistakes.
// Artifacts linked to a goal carry full weight; unscoped ones are discounted.
type ArtifactsCollector struct {
	DB                  *storage.DB
	ScopeWeightUnscoped float64
}

func (c *ArtifactsCollector) Name() string { return "artifacts" }

func (c *ArtifactsCollector) weight(goalID *string) float64 {
	if goalID != nil {
		return 1.0
	}
	return c.ScopeWeightUnscoped
}

func (c *ArtifactsCollector) Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error) {
	unknowns, err := c.DB.ListUnknowns(ctx, s.SessionID, false)
	if err != nil {
		return nil, fmt.Errorf("calibration: unknowns: %w", err)
	}
	findings, err := c.DB.ListFindings(ctx, s.SessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("calibration: findings: %w", err)
	}
	deadEnds, err := c.DB.ListDeadEnds(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("calibration: dead ends: %w", err)
	}
	mistakes, err := c.DB.ListMistakes(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("calibration: mistakes: %w", err)
	}

	var items []model.EvidenceItem

	// All-unscoped unknowns under a zero unscoped weight carry no evidence;
	// skip the metric rather than divide by zero.
	resolvedWeight, totalWeight := 0.0, 0.0
	for _, u := range unknowns {
		w := c.weight(u.GoalID)
		totalWeight += w
		if u.IsResolved {
			resolvedWeight += w
		}
	}
	if totalWeight > 0 {
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "unknown_resolution_ratio",
			NormalizedValue: resolvedWeight / totalWeight,
			RawValue:        float64(len(unknowns)),
			Quality:         model.QualitySemiObjective,
			SupportsVectors: []model.VectorName{model.VectorKnow, model.VectorClarity},
		})
	}

	if explored := len(findings) + len(deadEnds); explored > 0 {
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "productive_exploration_ratio",
			NormalizedValue: float64(len(findings)) / float64(explored),
			RawValue:        float64(len(findings)),
			Quality:         model.QualitySemiObjective,
			SupportsVectors: []model.VectorName{model.VectorKnow, model.VectorSignal},
		})
	}

	if attempts := len(findings) + len(mistakes); attempts > 0 {
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "mistake_free_ratio",
			NormalizedValue: float64(len(findings)) / float64(attempts),
			RawValue:        float64(len(mistakes)),
			Quality:         model.QualityInferred,
			SupportsVectors: []model.VectorName{model.VectorDo, model.VectorState},
		})
	}
	return items, nil
}

// SentinelCollector grounds confidence vectors in CHECK-gate behavior.
type SentinelCollector struct {
	DB *storage.DB
}

func (c *SentinelCollector) Name() string { return "sentinel" }

// investigationEfficiency maps CHECK round counts to [0,1]: a single round
// is perfectly efficient, five or more score zero.
func investigationEfficiency(rounds int) float64 {
	if rounds <= 1 {
		return 1.0
	}
	return clamp01(1 - float64(rounds-1)/4)
}

func (c *SentinelCollector) Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error) {
	total, proceeded, err := c.DB.CountCheckRounds(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("calibration: sentinel: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	return []model.EvidenceItem{
		{
			Source:          c.Name(),
			MetricName:      "check_proceed_ratio",
			NormalizedValue: float64(proceeded) / float64(total),
			RawValue:        float64(proceeded),
			Quality:         model.QualityObjective,
			SupportsVectors: []model.VectorName{model.VectorKnow, model.VectorClarity},
		},
		{
			Source:          c.Name(),
			MetricName:      "investigation_efficiency",
			NormalizedValue: investigationEfficiency(total),
			RawValue:        float64(total),
			Quality:         model.QualitySemiObjective,
			SupportsVectors: []model.VectorName{model.VectorSignal, model.VectorContext},
		},
	}, nil
}

// testReport is the JSON shape the test collector understands.
type testReport struct {
	Summary struct {
		Passed int `json:"passed"`
		Failed int `json:"failed"`
		Total  int `json:"total"`
	} `json:"summary"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// TestReportCollector grounds knowledge and completion vectors in a test
// report, tried in path order; the first readable file wins.
type TestReportCollector struct {
	Paths []string
}

func (c *TestReportCollector) Name() string { return "tests" }

func (c *TestReportCollector) Collect(_ context.Context, _ Scope) ([]model.EvidenceItem, error) {
	var report testReport
	found := false
	for _, p := range c.Paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(b, &report); err != nil {
			return nil, fmt.Errorf("calibration: test report %s: %w", p, err)
		}
		found = true
		break
	}
	if !found || report.Summary.Total == 0 {
		return nil, nil
	}

	items := []model.EvidenceItem{{
		Source:          c.Name(),
		MetricName:      "test_pass_rate",
		NormalizedValue: float64(report.Summary.Passed) / float64(report.Summary.Total),
		RawValue:        float64(report.Summary.Passed),
		Quality:         model.QualityObjective,
		SupportsVectors: []model.VectorName{model.VectorKnow, model.VectorCompletion},
	}}
	if report.CoveragePercent > 0 {
		items = append(items, model.EvidenceItem{
			Source:          c.Name(),
			MetricName:      "test_coverage",
			NormalizedValue: clamp01(report.CoveragePercent / 100),
			RawValue:        report.CoveragePercent,
			Quality:         model.QualityObjective,
			SupportsVectors: []model.VectorName{model.VectorContext},
		})
	}
	return items, nil
}

// GitCollector grounds action vectors in repository activity since the
// session started.
type GitCollector struct {
	Dir     string
	Timeout time.Duration
}

func (c *GitCollector) Name() string { return "git" }

func (c *GitCollector) git(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = c.Dir
	out, err := cmd.Output()
	if cctx.Err() != nil {
		return "", fmt.Errorf("calibration: git %s: %w", args[0], model.ErrTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("calibration: git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *GitCollector) Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error) {
	since := s.SessionStart.UTC().Format(time.RFC3339)

	countOut, err := c.git(ctx, "rev-list", "--count", "--since="+since, "HEAD")
	if err != nil {
		return nil, err
	}
	commits, err := strconv.Atoi(countOut)
	if err != nil {
		return nil, fmt.Errorf("calibration: parse commit count %q: %w", countOut, err)
	}
	if commits == 0 {
		return nil, nil
	}

	filesOut, err := c.git(ctx, "log", "--since="+since, "--name-only", "--pretty=format:")
	if err != nil {
		return nil, err
	}
	files := map[string]bool{}
	for _, line := range strings.Split(filesOut, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files[line] = true
		}
	}

	return []model.EvidenceItem{
		{
			Source:          c.Name(),
			MetricName:      "commit_activity",
			NormalizedValue: clamp01(float64(commits) / 5),
			RawValue:        float64(commits),
			Quality:         model.QualityObjective,
			SupportsVectors: []model.VectorName{model.VectorDo, model.VectorCompletion},
		},
		{
			Source:          c.Name(),
			MetricName:      "files_changed",
			NormalizedValue: clamp01(float64(len(files)) / 10),
			RawValue:        float64(len(files)),
			Quality:         model.QualityObjective,
			SupportsVectors: []model.VectorName{model.VectorImpact, model.VectorChange},
		},
	}, nil
}

// NoeticCollector grounds investigation-phase vectors: surfacing unknowns,
// avoiding dead ends, and thoroughness of findings.
type NoeticCollector struct {
	DB *storage.DB
}

func (c *NoeticCollector) Name() string { return "noetic" }

func (c *NoeticCollector) Collect(ctx context.Context, s Scope) ([]model.EvidenceItem, error) {
	unknowns, err := c.DB.ListUnknowns(ctx, s.SessionID, false)
	if err != nil {
		return nil, fmt.Errorf("calibration: noetic unknowns: %w", err)
	}
	findings, err := c.DB.ListFindings(ctx, s.SessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("calibration: noetic findings: %w", err)
	}
	deadEnds, err := c.DB.ListDeadEnds(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("calibration: noetic dead ends: %w", err)
	}

	return []model.EvidenceItem{
		{
			Source:          c.Name(),
			MetricName:      "unknowns_surfaced",
			NormalizedValue: clamp01(float64(len(unknowns)) / 3),
			RawValue:        float64(len(unknowns)),
			Quality:         model.QualityInferred,
			SupportsVectors: []model.VectorName{model.VectorClarity},
		},
		{
			Source:          c.Name(),
			MetricName:      "dead_end_avoidance",
			NormalizedValue: clamp01(1 - float64(len(deadEnds))/5),
			RawValue:        float64(len(deadEnds)),
			Quality:         model.QualityInferred,
			SupportsVectors: []model.VectorName{model.VectorSignal},
		},
		{
			Source:          c.Name(),
			MetricName:      "investigation_thoroughness",
			NormalizedValue: clamp01(float64(len(findings)) / 5),
			RawValue:        float64(len(findings)),
			Quality:         model.QualitySemiObjective,
			SupportsVectors: []model.VectorName{model.VectorKnow, model.VectorContext},
		},
	}, nil
}
