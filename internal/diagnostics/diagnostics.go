// Package diagnostics analyzes board structure and flow. Reachability
// properties (cycles, dangling references) are derived by a Datalog
// rules kernel; threshold detectors (bottlenecks, long chains, stalled
// boards, unservable tasks) run in Go over the same graph.
package diagnostics

import (
	"fmt"
	"sort"
	"time"

	"marcus/internal/deps"
	"marcus/internal/logging"
	"marcus/internal/registry"
	"marcus/internal/task"
)

// Severity grades an issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one detected problem with the tasks it affects and a
// suggested next step.
type Issue struct {
	Code           string   `json:"code"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Tasks          []string `json:"tasks,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Report is a full board analysis.
type Report struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Health       int                  `json:"health"` // 0-100
	Issues       []Issue              `json:"issues"`
	StatusCounts map[task.Status]int  `json:"status_counts"`
	Suggested    []deps.SuggestedEdge `json:"suggested_edges,omitempty"`
}

// boardRules is the Datalog program over the board's edge facts.
// task/2 is (id, status); hard_edge/2 is (dependent, predecessor).
const boardRules = `
known(T) :- task(T, _).
reaches(X, Z) :- hard_edge(X, Z).
reaches(X, Z) :- hard_edge(X, Y), reaches(Y, Z).
in_cycle(T) :- reaches(T, T).
dangling(T, D) :- hard_edge(T, D), !known(D).
`

// Sentinel facts keep every predicate populated so an empty or
// edge-free board still analyzes.
var sentinelFacts = []Fact{
	{Predicate: "task", Args: []interface{}{"__s1__", "none"}},
	{Predicate: "task", Args: []interface{}{"__s2__", "none"}},
	{Predicate: "hard_edge", Args: []interface{}{"__s1__", "__s2__"}},
}

// Analyzer runs the detectors. Reads happen under the core's
// serialization point.
type Analyzer struct {
	graph  *task.Graph
	engine *deps.Engine
	agents *registry.Registry
	kernel *Kernel

	bottleneckThreshold int
	longChainDepth      int
	now                 func() time.Time
}

// NewAnalyzer creates an analyzer. bottleneckThreshold is the number of
// waiting dependents that makes a task a bottleneck; longChainDepth is
// the critical-path length worth flagging.
func NewAnalyzer(g *task.Graph, e *deps.Engine, r *registry.Registry, bottleneckThreshold, longChainDepth int) *Analyzer {
	if bottleneckThreshold < 1 {
		bottleneckThreshold = 3
	}
	if longChainDepth < 2 {
		longChainDepth = 6
	}
	return &Analyzer{
		graph:               g,
		engine:              e,
		agents:              r,
		kernel:              NewKernel(boardRules),
		bottleneckThreshold: bottleneckThreshold,
		longChainDepth:      longChainDepth,
		now:                 time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *Analyzer) SetClock(now func() time.Time) { a.now = now }

// Analyze runs all detectors and scores board health.
func (a *Analyzer) Analyze() (*Report, error) {
	rep := &Report{
		GeneratedAt:  a.now(),
		StatusCounts: make(map[task.Status]int),
		Suggested:    a.engine.Suggested(),
	}
	for _, id := range a.graph.All() {
		t, _ := a.graph.Get(id)
		rep.StatusCounts[t.Status]++
	}

	if err := a.kernel.Evaluate(a.boardFacts()); err != nil {
		return nil, fmt.Errorf("diagnostics kernel: %w", err)
	}

	a.detectCycles(rep)
	a.detectDangling(rep)
	a.detectBottlenecks(rep)
	a.detectLongChains(rep)
	a.detectStall(rep)
	a.detectAllBlocked(rep)
	a.detectUnservable(rep)

	rep.Health = healthScore(rep.Issues)
	logging.Diag("board analyzed: health=%d issues=%d", rep.Health, len(rep.Issues))
	return rep, nil
}

// boardFacts flattens the graph into kernel facts.
func (a *Analyzer) boardFacts() []Fact {
	facts := append([]Fact(nil), sentinelFacts...)
	for _, id := range a.graph.All() {
		t, _ := a.graph.Get(id)
		facts = append(facts, Fact{Predicate: "task", Args: []interface{}{t.ID, string(t.Status)}})
		for _, d := range t.Dependencies {
			if d.Type == task.DepHard {
				facts = append(facts, Fact{Predicate: "hard_edge", Args: []interface{}{t.ID, d.TaskID}})
			}
		}
	}
	return facts
}

func (a *Analyzer) detectCycles(rep *Report) {
	var ids []string
	for _, f := range a.kernel.Query("in_cycle") {
		if id, ok := f.Args[0].(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return
	}
	rep.Issues = append(rep.Issues, Issue{
		Code:           "dependency-cycle",
		Severity:       SeverityCritical,
		Message:        fmt.Sprintf("%d tasks form hard dependency cycles and can never become ready", len(ids)),
		Tasks:          ids,
		Recommendation: "break one edge in each cycle, or downgrade an edge to a soft dependency",
	})
}

func (a *Analyzer) detectDangling(rep *Report) {
	owners := map[string][]string{} // missing target -> owners
	for _, f := range a.kernel.Query("dangling") {
		owner, ok1 := f.Args[0].(string)
		target, ok2 := f.Args[1].(string)
		if ok1 && ok2 {
			owners[target] = append(owners[target], owner)
		}
	}
	targets := make([]string, 0, len(owners))
	for t := range owners {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		sort.Strings(owners[target])
		rep.Issues = append(rep.Issues, Issue{
			Code:           "dangling-dependency",
			Severity:       SeverityHigh,
			Message:        fmt.Sprintf("dependency target %s does not exist", target),
			Tasks:          owners[target],
			Recommendation: "import the missing task or remove the edge; owners stay unassignable until repaired",
		})
	}
}

func (a *Analyzer) detectBottlenecks(rep *Report) {
	for _, id := range a.graph.All() {
		t, _ := a.graph.Get(id)
		if t.Status == task.StatusDone {
			continue
		}
		var waiting []string
		for _, d := range a.graph.DependentsOf(id) {
			if d.Status.Terminal() {
				continue
			}
			for _, e := range d.Dependencies {
				if e.TaskID == id && e.Type == task.DepHard {
					waiting = append(waiting, d.ID)
				}
			}
		}
		if len(waiting) < a.bottleneckThreshold {
			continue
		}
		sort.Strings(waiting)
		rep.Issues = append(rep.Issues, Issue{
			Code:           "bottleneck",
			Severity:       SeverityMedium,
			Message:        fmt.Sprintf("task %s gates %d waiting tasks", id, len(waiting)),
			Tasks:          append([]string{id}, waiting...),
			Recommendation: "prioritize the gating task or split it so dependents can start sooner",
		})
	}
}

func (a *Analyzer) detectLongChains(rep *Report) {
	var deepest []string
	for _, id := range a.graph.All() {
		if path := a.engine.CriticalPath(id); len(path) > len(deepest) {
			deepest = path
		}
	}
	if len(deepest) < a.longChainDepth {
		return
	}
	rep.Issues = append(rep.Issues, Issue{
		Code:           "long-chain",
		Severity:       SeverityInfo,
		Message:        fmt.Sprintf("critical path is %d tasks deep", len(deepest)),
		Tasks:          deepest,
		Recommendation: "look for chain links that could run in parallel or under soft dependencies",
	})
}

// detectStall flags a board with open work but nothing assignable and
// nothing running.
func (a *Analyzer) detectStall(rep *Report) {
	open := len(a.graph.ByStatus(task.StatusTodo)) + len(a.graph.ByStatus(task.StatusBlocked))
	if open == 0 {
		return
	}
	if len(a.graph.ByStatus(task.StatusInProgress)) > 0 || len(a.graph.ReadyTasks()) > 0 {
		return
	}
	blocked := a.graph.ByStatus(task.StatusBlocked)
	rep.Issues = append(rep.Issues, Issue{
		Code:           "board-stalled",
		Severity:       SeverityHigh,
		Message:        fmt.Sprintf("%d open tasks but none ready and none in progress", open),
		Tasks:          blocked,
		Recommendation: "resolve open blockers or repair the dependency structure to free at least one task",
	})
}

// detectAllBlocked explains a board where every open task is blocked
// while other work still runs. Informational: it is the reason the
// assignable pool is empty, not an error.
func (a *Analyzer) detectAllBlocked(rep *Report) {
	blocked := a.graph.ByStatus(task.StatusBlocked)
	if len(blocked) == 0 || len(a.graph.ByStatus(task.StatusTodo)) > 0 {
		return
	}
	if len(a.graph.ByStatus(task.StatusInProgress)) == 0 {
		return // nothing running at all is the stall detector's case
	}
	sort.Strings(blocked)
	rep.Issues = append(rep.Issues, Issue{
		Code:           "all-blocked",
		Severity:       SeverityInfo,
		Message:        fmt.Sprintf("all %d open tasks are blocked; only in-progress work remains", len(blocked)),
		Tasks:          blocked,
		Recommendation: "resolve the open blockers to refill the assignable pool",
	})
}

// detectUnservable flags ready tasks no registered agent can take.
func (a *Analyzer) detectUnservable(rep *Report) {
	agents := a.agents.List()
	if len(agents) == 0 {
		return
	}
	var unservable []string
	for _, t := range a.graph.ReadyTasks() {
		if len(t.RequiredCapabilities) == 0 {
			continue
		}
		served := false
		for _, ag := range agents {
			if ag.HasCapabilities(t.RequiredCapabilities) {
				served = true
				break
			}
		}
		if !served {
			unservable = append(unservable, t.ID)
		}
	}
	if len(unservable) == 0 {
		return
	}
	sort.Strings(unservable)
	rep.Issues = append(rep.Issues, Issue{
		Code:           "no-capable-agent",
		Severity:       SeverityMedium,
		Message:        fmt.Sprintf("%d ready tasks require capabilities no registered agent has", len(unservable)),
		Tasks:          unservable,
		Recommendation: "register an agent with the missing capabilities or relax the requirements",
	})
}

func healthScore(issues []Issue) int {
	score := 100
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			score -= 40
		case SeverityHigh:
			score -= 20
		case SeverityMedium:
			score -= 10
		case SeverityInfo:
			score -= 2
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
