// Package deps implements the dependency engine: static cycle
// validation, topological readiness, deterministic candidate ordering,
// and the inference hook that feeds externally suggested edges into the
// graph under a confidence threshold.
package deps

import (
	"sort"

	"marcus/internal/logging"
	"marcus/internal/task"
)

// Engine evaluates dependency structure over a task graph. Like the
// graph itself it is mutated only under the core's serialization point.
type Engine struct {
	graph     *task.Graph
	threshold float64

	// suggested holds inferred edges that were not applied, either below
	// threshold or rejected by validation. Surfaced through diagnostics.
	suggested []SuggestedEdge
}

// SuggestedEdge is an inferred edge recorded but not enforced.
type SuggestedEdge struct {
	From       string  `json:"from"` // dependent task
	To         string  `json:"to"`   // predecessor
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// NewEngine creates an engine over the graph. threshold is the minimum
// confidence for enforcing inferred edges.
func NewEngine(g *task.Graph, threshold float64) *Engine {
	return &Engine{graph: g, threshold: threshold}
}

// WouldCycle reports whether adding a hard edge dependent->predecessor
// would close a hard cycle.
func (e *Engine) WouldCycle(dependent, predecessor string) bool {
	return e.graph.HasHardPath(predecessor, dependent)
}

// AddEdge validates and applies an explicit dependency edge.
func (e *Engine) AddEdge(dependent, predecessor string, typ task.DependencyType) error {
	return e.graph.AddDependency(dependent, predecessor, typ)
}

// ReadySet returns the ready tasks ordered by assignment preference:
// priority descending, estimated effort ascending (short tasks keep
// velocity up), creation time ascending, id ascending. The order is
// deterministic across calls.
func (e *Engine) ReadySet() []*task.Task {
	ready := e.graph.ReadyTasks()
	OrderCandidates(ready)
	return ready
}

// OrderCandidates sorts tasks in place by the assignment tie-break rule.
func OrderCandidates(ts []*task.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if aw, bw := a.Priority.Weight(), b.Priority.Weight(); aw != bw {
			return aw > bw
		}
		if a.EstimatedHrs != b.EstimatedHrs {
			return a.EstimatedHrs < b.EstimatedHrs
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ApplyInferred runs candidate edges through validation and the
// confidence threshold. Edges that pass are applied to the graph; the
// rest are recorded as suggestions. Returns the number applied.
func (e *Engine) ApplyInferred(candidates []CandidateEdge) int {
	applied := 0
	for _, c := range candidates {
		if c.Confidence < e.threshold {
			e.record(c, "below confidence threshold")
			continue
		}
		if err := e.graph.AddDependency(c.From, c.To, c.Type); err != nil {
			e.record(c, err.Error())
			continue
		}
		logging.Deps("applied inferred %s edge %s -> %s (confidence %.2f)", c.Type, c.From, c.To, c.Confidence)
		applied++
	}
	return applied
}

func (e *Engine) record(c CandidateEdge, reason string) {
	logging.DepsDebug("suggested edge %s -> %s not applied: %s", c.From, c.To, reason)
	e.suggested = append(e.suggested, SuggestedEdge{
		From:       c.From,
		To:         c.To,
		Confidence: c.Confidence,
		Reason:     reason,
	})
}

// Suggested returns edges recorded but not enforced.
func (e *Engine) Suggested() []SuggestedEdge {
	return append([]SuggestedEdge(nil), e.suggested...)
}

// Upstream returns the transitive hard predecessors of a task, sorted.
func (e *Engine) Upstream(id string) []string {
	return e.walk(id, func(t *task.Task) []string { return t.HardDeps() })
}

// Downstream returns the transitive hard dependents of a task, sorted.
func (e *Engine) Downstream(id string) []string {
	return e.walk(id, func(t *task.Task) []string {
		var out []string
		for _, d := range e.graph.DependentsOf(t.ID) {
			for _, dep := range d.Dependencies {
				if dep.TaskID == t.ID && dep.Type == task.DepHard {
					out = append(out, d.ID)
				}
			}
		}
		return out
	})
}

func (e *Engine) walk(id string, next func(*task.Task) []string) []string {
	seen := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, err := e.graph.Get(cur)
		if err != nil {
			continue
		}
		for _, n := range next(t) {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	delete(seen, id)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CriticalPath returns the longest hard-dependency chain ending at the
// task, by estimated hours, oldest predecessor first. The task itself is
// included.
func (e *Engine) CriticalPath(id string) []string {
	memo := map[string][]string{}
	var longest func(cur string) []string
	longest = func(cur string) []string {
		if p, ok := memo[cur]; ok {
			return p
		}
		memo[cur] = []string{cur} // cycle guard; hard edges are acyclic anyway
		t, err := e.graph.Get(cur)
		if err != nil {
			return []string{cur}
		}
		best := []string{}
		bestHrs := -1.0
		for _, dep := range t.HardDeps() {
			p := longest(dep)
			hrs := e.pathHours(p)
			if hrs > bestHrs || (hrs == bestHrs && len(p) > 0 && len(best) > 0 && p[0] < best[0]) {
				best, bestHrs = p, hrs
			}
		}
		path := append(append([]string{}, best...), cur)
		memo[cur] = path
		return path
	}
	return longest(id)
}

func (e *Engine) pathHours(path []string) float64 {
	total := 0.0
	for _, id := range path {
		if t, err := e.graph.Get(id); err == nil {
			total += t.EstimatedHrs
		}
	}
	return total
}
