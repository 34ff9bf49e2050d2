package oracle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"marcus/internal/deps"
	"marcus/internal/task"
)

// FitWeights sets the term weights of the closed-form fit score. The
// defaults keep capability overlap dominant; priority and task size
// break the remaining ground.
type FitWeights struct {
	Overlap  float64 // capability coverage
	History  float64 // per-label success ratio
	Priority float64 // task priority rank
	Brevity  float64 // inverse expected duration
}

// DefaultFitWeights returns the standard weighting.
func DefaultFitWeights() FitWeights {
	return FitWeights{Overlap: 0.55, History: 0.2, Priority: 0.15, Brevity: 0.1}
}

// Fallback is the deterministic oracle. It never errs and answers
// instantly, so assignment keeps moving when the model is unavailable.
type Fallback struct {
	inferer deps.Inferer
	Weights FitWeights
}

// NewFallback creates the deterministic oracle. Dependency inference
// uses the contract inferer at the given confidence.
func NewFallback(confidence float64) *Fallback {
	return &Fallback{
		inferer: &deps.ContractInferer{Confidence: confidence},
		Weights: DefaultFitWeights(),
	}
}

func (f *Fallback) Name() string { return "fallback" }

// ScoreFit combines capability overlap, label history, priority, and
// inverse expected duration. Overlap stays dominant: an agent that can
// do the work beats one that historically succeeded at adjacent work,
// but among servable tasks the urgent short one outranks the casual
// long one.
func (f *Fallback) ScoreFit(_ context.Context, req FitRequest) (Fit, error) {
	w := f.Weights
	overlap := skillOverlap(req.Task.RequiredCapabilities, req.Capabilities)
	prio := float64(req.Task.Priority.Weight()) / 4
	hours := req.Task.EstimatedHrs
	if hours <= 0 {
		hours = 4 // same placeholder Predict uses for unestimated tasks
	}
	brevity := 1 / hours
	if brevity > 1 {
		brevity = 1
	}
	score := w.Overlap*overlap + w.History*req.LabelSuccessRatio + w.Priority*prio + w.Brevity*brevity
	return Fit{
		Score: score,
		Rationale: fmt.Sprintf("capability overlap %.2f, label success %.2f, priority %d/4, %.0fh estimate",
			overlap, req.LabelSuccessRatio, req.Task.Priority.Weight(), hours),
	}, nil
}

func skillOverlap(required, have []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = true
	}
	hit := 0
	for _, r := range required {
		if set[strings.ToLower(r)] {
			hit++
		}
	}
	return float64(hit) / float64(len(required))
}

func (f *Fallback) InferDependencies(_ context.Context, tasks []*task.Task) ([]deps.CandidateEdge, error) {
	return f.inferer.InferEdges(tasks), nil
}

// mitigationRule maps blocker phrasing to canned first steps.
type mitigationRule struct {
	keywords []string
	steps    []string
	escalate bool
}

var mitigationRules = []mitigationRule{
	{
		keywords: []string{"credential", "permission", "access", "token", "forbidden", "401", "403"},
		steps: []string{
			"Confirm which credential or permission is missing",
			"Request access from the project owner",
			"Record the granted scope in a decision once unblocked",
		},
		escalate: true,
	},
	{
		keywords: []string{"dependency", "waiting on", "blocked by", "upstream", "not done"},
		steps: []string{
			"Check whether the upstream task is in progress or stalled",
			"If the needed interface is already stable, proceed against a mock and note the assumption",
		},
	},
	{
		keywords: []string{"unclear", "ambiguous", "requirements", "not sure", "which"},
		steps: []string{
			"Write down the specific question and the options considered",
			"Pick the least surprising interpretation and log it as a decision",
		},
	},
	{
		keywords: []string{"environment", "install", "build fails", "setup", "version"},
		steps: []string{
			"Capture the exact failing command and output",
			"Compare the local toolchain versions against the project conventions",
		},
	},
	{
		keywords: []string{"conflict", "merge", "diverged"},
		steps: []string{
			"Rebase onto the latest mainline and rerun the tests",
			"If the conflict spans another agent's task, report it so ordering can be fixed",
		},
	},
}

// SuggestMitigation matches the blocker description against the rule
// book. High severity always escalates regardless of the matched rule.
func (f *Fallback) SuggestMitigation(_ context.Context, _ *task.Task, b task.Blocker) (Mitigation, error) {
	desc := strings.ToLower(b.Description)
	for _, rule := range mitigationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) {
				return Mitigation{
					Steps:           rule.steps,
					NeedsEscalation: rule.escalate || b.Severity == task.BlockerHigh,
				}, nil
			}
		}
	}
	return Mitigation{
		Steps: []string{
			"Describe the blocker with the exact error or missing piece",
			"Check whether any dependency task produces what is missing",
		},
		NeedsEscalation: b.Severity == task.BlockerHigh,
	}, nil
}

// Predict projects from label history and task size. Wide tasks with
// open blockers on their predecessors drag the estimate down.
func (f *Fallback) Predict(_ context.Context, req FitRequest) (Prediction, error) {
	prob := 0.5*req.LabelSuccessRatio + 0.5*skillOverlap(req.Task.RequiredCapabilities, req.Capabilities)
	hours := req.Task.EstimatedHrs
	if hours == 0 {
		hours = 4 // unestimated tasks get a half-day placeholder
	}

	var risks []string
	if len(req.Task.HardDeps()) > 2 {
		risks = append(risks, "many hard dependencies")
	}
	if req.Task.EstimatedHrs > 16 {
		risks = append(risks, "large task, consider splitting")
	}
	if req.Task.OpenBlockers() > 0 {
		risks = append(risks, "task has open blockers")
		prob *= 0.5
	}
	sort.Strings(risks)

	return Prediction{
		SuccessProbability: prob,
		ExpectedHours:      hours,
		RiskFactors:        risks,
		Basis:              "historical success ratio and capability overlap",
	}, nil
}
