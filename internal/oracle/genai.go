package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"marcus/internal/deps"
	"marcus/internal/task"
)

// GenAI asks a Gemini model. All prompts demand JSON and every reply
// is parsed strictly; a malformed reply is an error, and the caller's
// fallback takes over.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini-backed oracle.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("oracle: create client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

func (g *GenAI) Name() string { return "genai:" + g.model }

// ask sends one prompt and unmarshals the JSON reply into out.
func (g *GenAI) ask(ctx context.Context, prompt string, out interface{}) error {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return fmt.Errorf("oracle: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fmt.Errorf("oracle: empty reply")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("oracle: malformed reply: %w", err)
	}
	return nil
}

func taskBrief(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%s name=%q", t.ID, t.Name)
	if t.Description != "" {
		fmt.Fprintf(&b, " description=%q", t.Description)
	}
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, " labels=%v", t.Labels)
	}
	if len(t.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, " requires_capabilities=%v", t.RequiredCapabilities)
	}
	if t.Provides != "" {
		fmt.Fprintf(&b, " provides=%q", t.Provides)
	}
	if t.Requires != "" {
		fmt.Fprintf(&b, " requires=%q", t.Requires)
	}
	return b.String()
}

func (g *GenAI) ScoreFit(ctx context.Context, req FitRequest) (Fit, error) {
	prompt := fmt.Sprintf(`Score how well an agent fits a task, 0.0 to 1.0.
Task: %s
Agent %s has capabilities %v and a historical success ratio of %.2f on this task's labels.
Reply with JSON: {"score": <float>, "rationale": "<one sentence>"}`,
		taskBrief(req.Task), req.AgentID, req.Capabilities, req.LabelSuccessRatio)

	var fit Fit
	if err := g.ask(ctx, prompt, &fit); err != nil {
		return Fit{}, err
	}
	if fit.Score < 0 || fit.Score > 1 {
		return Fit{}, fmt.Errorf("oracle: fit score %v out of range", fit.Score)
	}
	return fit, nil
}

func (g *GenAI) InferDependencies(ctx context.Context, tasks []*task.Task) ([]deps.CandidateEdge, error) {
	var b strings.Builder
	b.WriteString("Given these tasks, propose dependency edges where one task must wait for another.\n")
	for _, t := range tasks {
		b.WriteString(taskBrief(t))
		b.WriteByte('\n')
	}
	b.WriteString(`Reply with JSON: {"edges": [{"from": "<dependent id>", "to": "<predecessor id>", "type": "hard"|"soft", "confidence": <float>, "reason": "<short>"}]}`)

	var out struct {
		Edges []struct {
			From       string  `json:"from"`
			To         string  `json:"to"`
			Type       string  `json:"type"`
			Confidence float64 `json:"confidence"`
			Reason     string  `json:"reason"`
		} `json:"edges"`
	}
	if err := g.ask(ctx, b.String(), &out); err != nil {
		return nil, err
	}

	edges := make([]deps.CandidateEdge, 0, len(out.Edges))
	for _, e := range out.Edges {
		typ := task.DependencyType(e.Type)
		if typ != task.DepHard && typ != task.DepSoft {
			typ = task.DepSoft
		}
		edges = append(edges, deps.CandidateEdge{
			From:       e.From,
			To:         e.To,
			Type:       typ,
			Confidence: e.Confidence,
			Reason:     e.Reason,
		})
	}
	return edges, nil
}

func (g *GenAI) SuggestMitigation(ctx context.Context, t *task.Task, b task.Blocker) (Mitigation, error) {
	prompt := fmt.Sprintf(`An agent working on this task reported a blocker.
Task: %s
Blocker (%s severity): %q
Suggest concrete next steps. Reply with JSON: {"steps": ["<step>", ...], "needs_escalation": <bool>}`,
		taskBrief(t), b.Severity, b.Description)

	var m Mitigation
	if err := g.ask(ctx, prompt, &m); err != nil {
		return Mitigation{}, err
	}
	if len(m.Steps) == 0 {
		return Mitigation{}, fmt.Errorf("oracle: mitigation without steps")
	}
	return m, nil
}

func (g *GenAI) Predict(ctx context.Context, req FitRequest) (Prediction, error) {
	prompt := fmt.Sprintf(`Predict the outcome of this assignment.
Task: %s (estimated %.1f hours)
Agent %s has capabilities %v and success ratio %.2f on similar work.
Reply with JSON: {"success_probability": <float>, "expected_hours": <float>, "risk_factors": ["<risk>", ...], "basis": "<short>"}`,
		taskBrief(req.Task), req.Task.EstimatedHrs, req.AgentID, req.Capabilities, req.LabelSuccessRatio)

	var p Prediction
	if err := g.ask(ctx, prompt, &p); err != nil {
		return Prediction{}, err
	}
	if p.SuccessProbability < 0 || p.SuccessProbability > 1 {
		return Prediction{}, fmt.Errorf("oracle: probability %v out of range", p.SuccessProbability)
	}
	return p, nil
}
