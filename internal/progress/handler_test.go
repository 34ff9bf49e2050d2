package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcus/internal/assign"
	"marcus/internal/deps"
	"marcus/internal/lease"
	"marcus/internal/oracle"
	"marcus/internal/provider"
	"marcus/internal/registry"
	"marcus/internal/store"
	"marcus/internal/task"
	"marcus/internal/taskctx"
	"marcus/internal/types"
)

type fixture struct {
	graph    *task.Graph
	leases   *lease.Manager
	agents   *registry.Registry
	assigner *assign.Assigner
	prov     *provider.InMemory
	st       store.Store
	handler  *Handler
	clock    time.Time
}

func newFixture(t *testing.T, policy MonotonicPolicy) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }

	f.graph = task.NewGraph()
	f.graph.SetClock(now)
	engine := deps.NewEngine(f.graph, 0.6)
	f.leases = lease.NewManager(5 * time.Minute)
	f.leases.SetClock(now)
	f.agents = registry.NewRegistry()
	f.agents.SetClock(now)
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f.st = st
	f.prov = provider.NewInMemory()

	fb := oracle.NewFallback(0.6)
	builder := taskctx.NewBuilder(f.graph, engine, fb)
	f.assigner = assign.NewAssigner(f.graph, engine, f.leases, f.agents, builder, fb, st, 3, nil)
	f.assigner.SetClock(now)
	f.handler = NewHandler(f.graph, f.leases, f.agents, f.assigner, fb, f.prov, st, policy)
	f.handler.SetClock(now)
	return f
}

// assign registers the agent, adds the task, and hands it out.
func (f *fixture) assign(t *testing.T, taskID, agentID string, tk *task.Task) {
	t.Helper()
	f.agents.Register(agentID, "agent", nil)
	if tk == nil {
		tk = &task.Task{ID: taskID, Name: taskID}
	}
	require.NoError(t, f.graph.Add(tk))
	f.prov.CreateTask(context.Background(), provider.Card{ID: taskID, Name: tk.Name}, "seed-"+taskID)
	asg, err := f.assigner.RequestNextTask(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, taskID, asg.Task.ID)
}

func TestHandleReportRenewsLease(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 30, Message: "models done"})
	require.NoError(t, err)
	assert.Equal(t, 30, ack.Percent)
	assert.False(t, ack.Completed)
	require.NotNil(t, ack.Lease)
	assert.Equal(t, 2, ack.Lease.Version) // grant was v1

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, 30, tk.Progress)
	assert.NotEmpty(t, f.prov.Comments("t1"))
}

func TestHandleReportNonHolderRejected(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	f.agents.Register("a2", "agent", nil)

	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a2", Percent: 10})
	assert.True(t, types.IsKind(err, types.KindNotHolder))
}

func TestHandleReportExpiredLeaseRejected(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	f.clock = f.clock.Add(10 * time.Minute)
	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 50})
	assert.True(t, types.IsKind(err, types.KindLeaseExpired))
}

func TestCompletionAllowedOnUnsweptExpiredLease(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	// The lease lapsed but the sweeper has not run. The holder finishing
	// the work still lands; the lease is cancelled by the completion.
	f.clock = f.clock.Add(10 * time.Minute)
	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 100, Done: true})
	require.NoError(t, err)
	assert.True(t, ack.Completed)

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, task.StatusDone, tk.Status)
	_, held := f.leases.TaskOf("a1")
	assert.False(t, held)

	// A different agent finishing the same task is still refused.
	f.assign(t, "t2", "a1", nil)
	f.agents.Register("a2", "agent", nil)
	_, err = f.handler.HandleReport(context.Background(), Report{TaskID: "t2", AgentID: "a2", Done: true})
	assert.True(t, types.IsKind(err, types.KindNotHolder))
}

func TestHandleReportRejectPolicy(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 60})
	require.NoError(t, err)

	_, err = f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 40})
	assert.True(t, types.IsKind(err, types.KindNonMonotonic))

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, 60, tk.Progress)
}

func TestHandleReportClampPolicy(t *testing.T) {
	f := newFixture(t, PolicyClamp)
	f.assign(t, "t1", "a1", nil)

	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 60})
	require.NoError(t, err)

	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 40})
	require.NoError(t, err)
	assert.Equal(t, 60, ack.Percent) // high-water mark kept

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, 60, tk.Progress)
}

func TestHandleReportPercentOutOfRange(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 140})
	assert.True(t, types.IsKind(err, types.KindNonMonotonic))
}

func TestCompletionCascades(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.agents.Register("a1", "agent", nil)
	require.NoError(t, f.graph.Add(&task.Task{ID: "t1", Name: "Upstream"}))
	require.NoError(t, f.graph.Add(&task.Task{ID: "t2", Name: "Downstream",
		Dependencies: []task.Dependency{{TaskID: "t1", Type: task.DepHard}}}))
	f.prov.CreateTask(context.Background(), provider.Card{ID: "t1", Name: "Upstream"}, "seed-t1")

	asg, err := f.assigner.RequestNextTask(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "t1", asg.Task.ID)

	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 100, Done: true, Message: "shipped"})
	require.NoError(t, err)
	assert.True(t, ack.Completed)
	assert.Equal(t, []string{"t2"}, ack.ReadiedTasks)

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, task.StatusDone, tk.Status)
	assert.Equal(t, 100, tk.Progress)

	// Lease released, assignment record gone, agent free again.
	_, held := f.leases.TaskOf("a1")
	assert.False(t, held)
	err = store.GetJSON(f.st, store.AssignmentKey("a1"), &assign.Record{})
	assert.True(t, store.IsNotFound(err))

	// The downstream task is now assignable.
	next, err := f.assigner.RequestNextTask(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "t2", next.Task.ID)

	// Outcome recorded.
	agent, _ := f.agents.Snapshot("a1")
	assert.Equal(t, 1, agent.TotalCompleted)

	// Provider mirrored the status.
	card, err := f.prov.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, card.Status)
}

func TestParentRollupOnLastSubtask(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.agents.Register("a1", "agent", nil)
	require.NoError(t, f.graph.Add(&task.Task{ID: "feature", Name: "Feature"}))
	require.NoError(t, f.graph.Add(&task.Task{ID: "f-1", Name: "Part one", ParentID: "feature", Order: 1, Status: task.StatusDone}))
	require.NoError(t, f.graph.Add(&task.Task{ID: "f-2", Name: "Part two", ParentID: "feature", Order: 2}))
	f.prov.CreateTask(context.Background(), provider.Card{ID: "feature", Name: "Feature"}, "seed-p")
	f.prov.CreateTask(context.Background(), provider.Card{ID: "f-2", Name: "Part two"}, "seed-c")

	asg, err := f.assigner.RequestNextTask(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "f-2", asg.Task.ID)

	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "f-2", AgentID: "a1", Done: true})
	require.NoError(t, err)
	assert.Equal(t, "feature", ack.ParentCompleted)

	parent, _ := f.graph.Snapshot("feature")
	assert.Equal(t, task.StatusDone, parent.Status)
	assert.NotEmpty(t, f.prov.Comments("feature")) // rollup summary comment
}

func TestNoRollupWhileSiblingsOpen(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.agents.Register("a1", "agent", nil)
	require.NoError(t, f.graph.Add(&task.Task{ID: "feature", Name: "Feature"}))
	require.NoError(t, f.graph.Add(&task.Task{ID: "f-1", Name: "Part one", ParentID: "feature", Order: 1}))
	require.NoError(t, f.graph.Add(&task.Task{ID: "f-2", Name: "Part two", ParentID: "feature", Order: 2}))

	asg, err := f.assigner.RequestNextTask(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "f-1", asg.Task.ID)

	ack, err := f.handler.HandleReport(context.Background(), Report{TaskID: "f-1", AgentID: "a1", Done: true})
	require.NoError(t, err)
	assert.Empty(t, ack.ParentCompleted)

	parent, _ := f.graph.Snapshot("feature")
	assert.Equal(t, task.StatusTodo, parent.Status)
}

func TestHandleBlockerKeepsLease(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	ack, err := f.handler.HandleBlocker(context.Background(), "t1", "a1", "403 forbidden from deploy API", task.BlockerHigh)
	require.NoError(t, err)
	require.NotNil(t, ack.Lease)
	assert.True(t, ack.Mitigation.NeedsEscalation)
	assert.NotEmpty(t, ack.Mitigation.Steps)

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, task.StatusBlocked, tk.Status)
	assert.Equal(t, 1, tk.OpenBlockers())

	// Lease survives; the task is not reassignable.
	held, ok := f.leases.TaskOf("a1")
	assert.True(t, ok)
	assert.Equal(t, "t1", held)
}

func TestBlockedTaskExcludedFromAssignment(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	_, err := f.handler.HandleBlocker(context.Background(), "t1", "a1", "stuck", task.BlockerLow)
	require.NoError(t, err)

	f.agents.Register("a2", "agent", nil)
	_, err = f.assigner.RequestNextTask(context.Background(), "a2")
	assert.True(t, types.IsKind(err, types.KindNoReadyTask))
}

func TestUnblockResumesTask(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	_, err := f.handler.HandleBlocker(context.Background(), "t1", "a1", "env issue", task.BlockerLow)
	require.NoError(t, err)

	require.NoError(t, f.handler.HandleUnblock(context.Background(), "t1", "a1"))

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, task.StatusInProgress, tk.Status)
	assert.Zero(t, tk.OpenBlockers())

	// Progress reporting works again.
	_, err = f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 70})
	require.NoError(t, err)
}

func TestReportAfterCompletionRejected(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 100, Done: true})
	require.NoError(t, err)

	_, err = f.handler.HandleReport(context.Background(), Report{TaskID: "t1", AgentID: "a1", Percent: 100})
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))
}

func TestUnblockAfterLeaseLapseReturnsToPool(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)
	_, err := f.handler.HandleBlocker(context.Background(), "t1", "a1", "waiting on infra", task.BlockerMedium)
	require.NoError(t, err)

	// The sweeper reclaimed the lease while the task sat blocked.
	f.leases.Release("t1")
	f.graph.SetAssignee("t1", "")

	require.NoError(t, f.handler.HandleUnblock(context.Background(), "t1", "a2"))

	tk, _ := f.graph.Snapshot("t1")
	assert.Equal(t, task.StatusTodo, tk.Status)
	assert.Zero(t, tk.OpenBlockers())
	assert.Empty(t, tk.Assignee)
}

func TestLogDecisionPersists(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	d, err := f.handler.LogDecision(context.Background(), "t1", "a1", "chose JWT for sessions")
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	decisions := f.graph.DecisionsFor("t1")
	require.Len(t, decisions, 1)
	assert.Equal(t, "chose JWT for sessions", decisions[0].Text)

	var stored task.Decision
	require.NoError(t, store.GetJSON(f.st, store.DecisionKey("t1", d.ID), &stored))
	assert.Equal(t, d.Text, stored.Text)
}

func TestLogArtifactCanonicalPlacement(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	a, err := f.handler.LogArtifact(context.Background(), "t1", "a1", "auth-api.yaml", task.ArtifactAPI, "")
	require.NoError(t, err)
	assert.Equal(t, "docs/api/auth-api.yaml", a.Location)

	// Same filename again without a location: a second record, not an
	// overwrite (work logs accumulate).
	_, err = f.handler.LogArtifact(context.Background(), "t1", "a1", "auth-api.yaml", task.ArtifactAPI, "")
	require.NoError(t, err)
	assert.Len(t, f.graph.ArtifactsFor("t1"), 2)
}

func TestLogArtifactExplicitLocationUpserts(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.assign(t, "t1", "a1", nil)

	first, err := f.handler.LogArtifact(context.Background(), "t1", "a1", "notes.md", task.ArtifactDocumentation, "wiki/notes.md")
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	second, err := f.handler.LogArtifact(context.Background(), "t1", "a1", "notes.md", task.ArtifactDocumentation, "wiki/notes.md")
	require.NoError(t, err)

	// Metadata replaced in place, original id retained.
	assert.Equal(t, first.ID, second.ID)
	arts := f.graph.ArtifactsFor("t1")
	require.Len(t, arts, 1)
	assert.Equal(t, "wiki/notes.md", arts[0].Location)
}

func TestReportOnUnknownTask(t *testing.T) {
	f := newFixture(t, PolicyReject)
	f.agents.Register("a1", "agent", nil)
	_, err := f.handler.HandleReport(context.Background(), Report{TaskID: "ghost", AgentID: "a1", Percent: 10})
	assert.True(t, types.IsKind(err, types.KindUnknownTask))
}
