package deps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcus/internal/task"
)

func buildGraph(t *testing.T, tasks ...*task.Task) *task.Graph {
	t.Helper()
	g := task.NewGraph()
	for _, tk := range tasks {
		require.NoError(t, g.Add(tk))
	}
	return g
}

func tk(id string) *task.Task { return &task.Task{ID: id, Name: id} }

func tkDeps(id string, deps ...task.Dependency) *task.Task {
	t := tk(id)
	t.Dependencies = deps
	return t
}

func hard(id string) task.Dependency { return task.Dependency{TaskID: id, Type: task.DepHard} }

func TestReadySetOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	urgent := tk("urgent-long")
	urgent.Priority = task.PriorityUrgent
	urgent.EstimatedHrs = 8

	highShort := tk("high-short")
	highShort.Priority = task.PriorityHigh
	highShort.EstimatedHrs = 1

	highLong := tk("high-long")
	highLong.Priority = task.PriorityHigh
	highLong.EstimatedHrs = 4

	older := tk("older")
	older.Priority = task.PriorityHigh
	older.EstimatedHrs = 4
	older.CreatedAt = base

	g := task.NewGraph()
	g.SetClock(func() time.Time { return base.Add(time.Hour) })
	for _, x := range []*task.Task{urgent, highShort, highLong, older} {
		require.NoError(t, g.Add(x))
	}

	e := NewEngine(g, 0.6)
	got := e.ReadySet()
	ids := make([]string, len(got))
	for i, x := range got {
		ids[i] = x.ID
	}
	// priority desc, then effort asc, then created asc, then id asc
	assert.Equal(t, []string{"urgent-long", "high-short", "older", "high-long"}, ids)

	// Deterministic across calls.
	again := e.ReadySet()
	ids2 := make([]string, len(again))
	for i, x := range again {
		ids2[i] = x.ID
	}
	assert.Equal(t, ids, ids2)
}

func TestWouldCycle(t *testing.T) {
	g := buildGraph(t, tk("a"), tkDeps("b", hard("a")), tkDeps("c", hard("b")))
	e := NewEngine(g, 0.6)

	// a waiting on c would close the cycle.
	assert.True(t, e.WouldCycle("a", "c"))
	assert.False(t, e.WouldCycle("c", "a")) // already implied, not a new cycle
}

func TestApplyInferredThresholdAndValidation(t *testing.T) {
	g := buildGraph(t, tk("a"), tkDeps("b", hard("a")))
	e := NewEngine(g, 0.6)

	applied := e.ApplyInferred([]CandidateEdge{
		{From: "b", To: "a", Type: task.DepHard, Confidence: 0.9},  // duplicate edge, rejected
		{From: "a", To: "b", Type: task.DepHard, Confidence: 0.9},  // would cycle, rejected
		{From: "a", To: "b", Type: task.DepSoft, Confidence: 0.3},  // below threshold
		{From: "b", To: "ghost", Type: task.DepHard, Confidence: 1}, // unknown target
	})
	assert.Equal(t, 0, applied)
	assert.Len(t, e.Suggested(), 4)

	// Graph untouched by rejected inference.
	a, _ := g.Get("a")
	assert.Empty(t, a.Dependencies)

	// A clean candidate above threshold is enforced.
	g2 := buildGraph(t, tk("x"), tk("y"))
	e2 := NewEngine(g2, 0.6)
	applied = e2.ApplyInferred([]CandidateEdge{
		{From: "y", To: "x", Type: task.DepHard, Confidence: 0.8},
	})
	assert.Equal(t, 1, applied)
	y, _ := g2.Get("y")
	require.Len(t, y.Dependencies, 1)
	assert.Equal(t, "x", y.Dependencies[0].TaskID)
}

func TestUpstreamDownstream(t *testing.T) {
	g := buildGraph(t,
		tk("a"),
		tkDeps("b", hard("a")),
		tkDeps("c", hard("b")),
		tkDeps("d", hard("b")),
	)
	e := NewEngine(g, 0.6)

	assert.Equal(t, []string{"a", "b"}, e.Upstream("c"))
	assert.Equal(t, []string{"b", "c", "d"}, e.Downstream("a"))
	assert.Empty(t, e.Upstream("a"))
	assert.Empty(t, e.Downstream("c"))
}

func TestCriticalPath(t *testing.T) {
	a := tk("a")
	a.EstimatedHrs = 1
	b := tkDeps("b", hard("a"))
	b.EstimatedHrs = 10
	c := tk("c")
	c.EstimatedHrs = 2
	d := tkDeps("d", hard("b"), hard("c"))
	d.EstimatedHrs = 1

	g := buildGraph(t, a, b, c, d)
	e := NewEngine(g, 0.6)

	// The heavier chain a -> b dominates c.
	assert.Equal(t, []string{"a", "b", "d"}, e.CriticalPath("d"))
}

func TestContractInferer(t *testing.T) {
	login := tk("login")
	login.Provides = "POST /login returns {token}"
	profile := tk("profile")
	profile.Requires = "needs the auth token from login"

	ci := &ContractInferer{Confidence: 0.7}
	edges := ci.InferEdges([]*task.Task{login, profile})
	require.Len(t, edges, 1)
	assert.Equal(t, "profile", edges[0].From)
	assert.Equal(t, "login", edges[0].To)
	assert.Equal(t, task.DepHard, edges[0].Type)
	assert.Equal(t, 0.7, edges[0].Confidence)
}

func TestContractInfererNoMatch(t *testing.T) {
	a := tk("a")
	a.Provides = "GET /x"
	b := tk("b")
	b.Requires = "something unrelated"
	ci := &ContractInferer{}
	assert.Empty(t, ci.InferEdges([]*task.Task{a, b}))
}
