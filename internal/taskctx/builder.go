// Package taskctx assembles the working context an agent receives with
// an assignment: what predecessors produced, what may be mocked, who
// waits downstream, and for subtasks the parent's conventions and the
// siblings' contracts.
package taskctx

import (
	"context"

	"marcus/internal/deps"
	"marcus/internal/oracle"
	"marcus/internal/task"
)

// PriorWork is what one predecessor left behind.
type PriorWork struct {
	TaskID    string          `json:"task_id"`
	Name      string          `json:"name"`
	Status    task.Status     `json:"status"`
	Provides  string          `json:"provides,omitempty"`
	Decisions []task.Decision `json:"decisions,omitempty"`
	Artifacts []task.Artifact `json:"artifacts,omitempty"`
}

// Mockable is a soft predecessor whose contract the agent may stub out
// instead of waiting. Decisions and artifacts recorded so far travel
// along, so the stub matches the interface as it actually stands.
type Mockable struct {
	TaskID    string          `json:"task_id"`
	Name      string          `json:"name"`
	Status    task.Status     `json:"status"`
	Provides  string          `json:"provides,omitempty"`
	Decisions []task.Decision `json:"decisions,omitempty"`
	Artifacts []task.Artifact `json:"artifacts,omitempty"`
}

// Dependent is a downstream task waiting on this one.
type Dependent struct {
	TaskID string              `json:"task_id"`
	Name   string              `json:"name"`
	Type   task.DependencyType `json:"type"`
}

// Sibling is another subtask of the same parent, shown so the agent
// builds against the agreed interfaces.
type Sibling struct {
	TaskID   string      `json:"task_id"`
	Name     string      `json:"name"`
	Order    int         `json:"order"`
	Status   task.Status `json:"status"`
	Provides string      `json:"provides,omitempty"`
}

// Subtask is the decomposition view for a subtask assignment.
type Subtask struct {
	ParentID          string            `json:"parent_id"`
	ParentName        string            `json:"parent_name"`
	ParentDescription string            `json:"parent_description,omitempty"`
	Conventions       map[string]string `json:"conventions,omitempty"`
	Position          int               `json:"position"` // 1-based among siblings
	Total             int               `json:"total"`
	Siblings          []Sibling         `json:"siblings,omitempty"`
}

// Context is the full briefing attached to an assignment.
type Context struct {
	Task         *task.Task         `json:"task"`
	PriorWork    []PriorWork        `json:"prior_work,omitempty"`
	Mockable     []Mockable         `json:"mockable,omitempty"`
	Dependents   []Dependent        `json:"dependents,omitempty"`
	Subtask      *Subtask           `json:"subtask,omitempty"`
	CriticalPath []string           `json:"critical_path,omitempty"`
	Prediction   *oracle.Prediction `json:"prediction,omitempty"`
}

// Builder assembles contexts from the graph. Reads happen under the
// core's serialization point; the returned context is all copies.
type Builder struct {
	graph  *task.Graph
	engine *deps.Engine
	oracle oracle.Oracle
}

// NewBuilder creates a context builder. oracle may be nil to skip
// predictions.
func NewBuilder(g *task.Graph, e *deps.Engine, o oracle.Oracle) *Builder {
	return &Builder{graph: g, engine: e, oracle: o}
}

// Build assembles the context for a task about to be (or already)
// assigned to agent.
func (b *Builder) Build(ctx context.Context, id string, req oracle.FitRequest) (*Context, error) {
	t, err := b.graph.Snapshot(id)
	if err != nil {
		return nil, err
	}

	out := &Context{Task: t}
	b.collectPredecessors(out, t)
	b.collectDependents(out, id)
	b.collectSubtask(out, t)
	if path := b.engine.CriticalPath(id); len(path) > 1 {
		out.CriticalPath = path
	}

	if b.oracle != nil {
		req.Task = t
		if p, err := b.oracle.Predict(ctx, req); err == nil {
			out.Prediction = &p
		}
	}
	return out, nil
}

// collectPredecessors splits the task's edges: hard predecessors become
// prior work (they are done by the time the task is assignable), soft
// predecessors become mockable contracts whatever their state.
func (b *Builder) collectPredecessors(out *Context, t *task.Task) {
	for _, d := range t.Dependencies {
		pred, err := b.graph.Get(d.TaskID)
		if err != nil {
			continue // dangling edge, reported by diagnostics
		}
		switch d.Type {
		case task.DepHard:
			out.PriorWork = append(out.PriorWork, PriorWork{
				TaskID:    pred.ID,
				Name:      pred.Name,
				Status:    pred.Status,
				Provides:  pred.Provides,
				Decisions: b.graph.DecisionsFor(pred.ID),
				Artifacts: b.graph.ArtifactsFor(pred.ID),
			})
		case task.DepSoft:
			out.Mockable = append(out.Mockable, Mockable{
				TaskID:    pred.ID,
				Name:      pred.Name,
				Status:    pred.Status,
				Provides:  pred.Provides,
				Decisions: b.graph.DecisionsFor(pred.ID),
				Artifacts: b.graph.ArtifactsFor(pred.ID),
			})
		}
	}
}

func (b *Builder) collectDependents(out *Context, id string) {
	for _, d := range b.graph.DependentsOf(id) {
		for _, dep := range d.Dependencies {
			if dep.TaskID != id {
				continue
			}
			out.Dependents = append(out.Dependents, Dependent{
				TaskID: d.ID,
				Name:   d.Name,
				Type:   dep.Type,
			})
		}
	}
}

func (b *Builder) collectSubtask(out *Context, t *task.Task) {
	if t.ParentID == "" {
		return
	}
	parent, err := b.graph.Get(t.ParentID)
	if err != nil {
		return
	}
	sub := &Subtask{
		ParentID:          parent.ID,
		ParentName:        parent.Name,
		ParentDescription: parent.Description,
		Conventions:       parent.Conventions,
	}
	kids := b.graph.ChildrenOf(parent.ID)
	sub.Total = len(kids)
	for i, k := range kids {
		if k.ID == t.ID {
			sub.Position = i + 1
			continue
		}
		sub.Siblings = append(sub.Siblings, Sibling{
			TaskID:   k.ID,
			Name:     k.Name,
			Order:    k.Order,
			Status:   k.Status,
			Provides: k.Provides,
		})
	}
	out.Subtask = sub
}
