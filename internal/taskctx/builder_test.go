package taskctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcus/internal/deps"
	"marcus/internal/oracle"
	"marcus/internal/task"
)

func testGraph(t *testing.T) *task.Graph {
	t.Helper()
	g := task.NewGraph()
	g.SetClock(func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) })
	return g
}

func TestBuildIncludesHardPredecessorWork(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "schema", Name: "Design schema", Provides: "users table", Status: task.StatusDone}))
	require.NoError(t, g.Add(&task.Task{ID: "api", Name: "Build API", Dependencies: []task.Dependency{{TaskID: "schema", Type: task.DepHard}}}))
	require.NoError(t, g.AddDecision(task.Decision{ID: "d1", TaskID: "schema", AgentID: "a1", Text: "UUID primary keys"}))
	require.NoError(t, g.AddArtifact(task.Artifact{ID: "f1", TaskID: "schema", Filename: "schema.sql", Type: task.ArtifactSpecification, Location: "docs/specifications/schema.sql"}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "api", oracle.FitRequest{})
	require.NoError(t, err)

	require.Len(t, c.PriorWork, 1)
	pw := c.PriorWork[0]
	assert.Equal(t, "schema", pw.TaskID)
	assert.Equal(t, "users table", pw.Provides)
	require.Len(t, pw.Decisions, 1)
	assert.Equal(t, "UUID primary keys", pw.Decisions[0].Text)
	require.Len(t, pw.Artifacts, 1)
	assert.Equal(t, "schema.sql", pw.Artifacts[0].Filename)
	assert.Empty(t, c.Mockable)
}

func TestBuildMarksSoftPredecessorsMockable(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "payments", Name: "Payments service", Provides: "PaymentClient interface"}))
	require.NoError(t, g.Add(&task.Task{ID: "checkout", Name: "Checkout flow", Dependencies: []task.Dependency{{TaskID: "payments", Type: task.DepSoft}}}))
	require.NoError(t, g.AddDecision(task.Decision{ID: "d1", TaskID: "payments", AgentID: "a1", Text: "Charge returns an idempotency token"}))
	require.NoError(t, g.AddArtifact(task.Artifact{ID: "f1", TaskID: "payments", Filename: "client.go", Type: task.ArtifactAPI, Location: "internal/payments/client.go"}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "checkout", oracle.FitRequest{})
	require.NoError(t, err)

	require.Len(t, c.Mockable, 1)
	m := c.Mockable[0]
	assert.Equal(t, "payments", m.TaskID)
	assert.Equal(t, "PaymentClient interface", m.Provides)
	// The stub is written against the contract as recorded, so the
	// predecessor's decisions and artifacts ride along.
	require.Len(t, m.Decisions, 1)
	assert.Equal(t, "Charge returns an idempotency token", m.Decisions[0].Text)
	require.Len(t, m.Artifacts, 1)
	assert.Equal(t, "client.go", m.Artifacts[0].Filename)
	assert.Empty(t, c.PriorWork)
}

func TestBuildListsDependents(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "core", Name: "Core library"}))
	require.NoError(t, g.Add(&task.Task{ID: "cli", Name: "CLI", Dependencies: []task.Dependency{{TaskID: "core", Type: task.DepHard}}}))
	require.NoError(t, g.Add(&task.Task{ID: "web", Name: "Web UI", Dependencies: []task.Dependency{{TaskID: "core", Type: task.DepSoft}}}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "core", oracle.FitRequest{})
	require.NoError(t, err)

	require.Len(t, c.Dependents, 2)
	assert.Equal(t, "cli", c.Dependents[0].TaskID)
	assert.Equal(t, task.DepHard, c.Dependents[0].Type)
	assert.Equal(t, "web", c.Dependents[1].TaskID)
	assert.Equal(t, task.DepSoft, c.Dependents[1].Type)
}

func TestBuildSubtaskView(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{
		ID: "feature", Name: "User profiles", Description: "Profiles end to end",
		Conventions: map[string]string{"base_path": "internal/profile"},
	}))
	require.NoError(t, g.Add(&task.Task{ID: "f-1", Name: "Model", ParentID: "feature", Order: 1, Provides: "Profile struct", Status: task.StatusDone}))
	require.NoError(t, g.Add(&task.Task{ID: "f-2", Name: "Storage", ParentID: "feature", Order: 2}))
	require.NoError(t, g.Add(&task.Task{ID: "f-3", Name: "Handlers", ParentID: "feature", Order: 3}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "f-2", oracle.FitRequest{})
	require.NoError(t, err)

	require.NotNil(t, c.Subtask)
	assert.Equal(t, "feature", c.Subtask.ParentID)
	assert.Equal(t, "internal/profile", c.Subtask.Conventions["base_path"])
	assert.Equal(t, 2, c.Subtask.Position)
	assert.Equal(t, 3, c.Subtask.Total)
	require.Len(t, c.Subtask.Siblings, 2)
	assert.Equal(t, "Profile struct", c.Subtask.Siblings[0].Provides)
}

func TestBuildTopLevelTaskHasNoSubtaskView(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "solo", Name: "Standalone"}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "solo", oracle.FitRequest{})
	require.NoError(t, err)
	assert.Nil(t, c.Subtask)
	assert.Empty(t, c.CriticalPath)
}

func TestBuildCriticalPath(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "a", Name: "A", EstimatedHrs: 8, Status: task.StatusDone}))
	require.NoError(t, g.Add(&task.Task{ID: "b", Name: "B", EstimatedHrs: 4, Dependencies: []task.Dependency{{TaskID: "a", Type: task.DepHard}}, Status: task.StatusDone}))
	require.NoError(t, g.Add(&task.Task{ID: "c", Name: "C", Dependencies: []task.Dependency{{TaskID: "b", Type: task.DepHard}}}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "c", oracle.FitRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, c.CriticalPath)
}

func TestBuildAttachesPrediction(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "t1", Name: "Task", EstimatedHrs: 6}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), oracle.NewFallback(0.6))
	c, err := b.Build(context.Background(), "t1", oracle.FitRequest{
		AgentID:           "a1",
		LabelSuccessRatio: 0.8,
	})
	require.NoError(t, err)
	require.NotNil(t, c.Prediction)
	assert.Equal(t, 6.0, c.Prediction.ExpectedHours)
}

func TestBuildUnknownTask(t *testing.T) {
	g := testGraph(t)
	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	_, err := b.Build(context.Background(), "missing", oracle.FitRequest{})
	require.Error(t, err)
}

func TestBuildSkipsDanglingEdges(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, g.Add(&task.Task{ID: "t1", Name: "Task", Dependencies: []task.Dependency{{TaskID: "ghost", Type: task.DepHard}}}))

	b := NewBuilder(g, deps.NewEngine(g, 0.6), nil)
	c, err := b.Build(context.Background(), "t1", oracle.FitRequest{})
	require.NoError(t, err)
	assert.Empty(t, c.PriorWork)
}
