// Package oracle is the advisory AI seam. It proposes fit scores,
// dependency edges, blocker mitigations, and completion predictions.
// Nothing here is authoritative: every answer passes through the
// dependency engine's validation or the assigner's own checks, and a
// deterministic fallback stands in whenever the model is disabled,
// slow, or wrong-shaped.
package oracle

import (
	"context"

	"marcus/internal/deps"
	"marcus/internal/task"
)

// FitRequest carries what the oracle may consider when scoring an
// agent against a task. Registry-derived numbers come in flattened so
// the oracle never reaches into live state.
type FitRequest struct {
	Task              *task.Task
	AgentID           string
	Capabilities      []string
	LabelSuccessRatio float64 // historical success on this task's labels
}

// Fit is a fit verdict in [0,1] with a short rationale.
type Fit struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Mitigation is advice for a reported blocker.
type Mitigation struct {
	Steps           []string `json:"steps"`
	NeedsEscalation bool     `json:"needs_escalation"`
}

// Prediction estimates how an assignment will go.
type Prediction struct {
	SuccessProbability float64  `json:"success_probability"`
	ExpectedHours      float64  `json:"expected_hours"`
	RiskFactors        []string `json:"risk_factors,omitempty"`
	Basis              string   `json:"basis"`
}

// Oracle answers advisory questions. Implementations must respect the
// context deadline; callers treat any error as "no advice".
type Oracle interface {
	Name() string
	ScoreFit(ctx context.Context, req FitRequest) (Fit, error)
	InferDependencies(ctx context.Context, tasks []*task.Task) ([]deps.CandidateEdge, error)
	SuggestMitigation(ctx context.Context, t *task.Task, b task.Blocker) (Mitigation, error)
	Predict(ctx context.Context, req FitRequest) (Prediction, error)
}
