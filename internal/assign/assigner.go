// Package assign implements task selection: matching registered agents
// to ready tasks, scoring candidates, reserving the winner under a
// lease, and persisting the assignment so it survives a restart.
package assign

import (
	"context"
	"time"

	"marcus/internal/deps"
	"marcus/internal/lease"
	"marcus/internal/logging"
	"marcus/internal/oracle"
	"marcus/internal/registry"
	"marcus/internal/store"
	"marcus/internal/task"
	"marcus/internal/taskctx"
	"marcus/internal/types"
)

// Assignment is what an agent receives for a granted task.
type Assignment struct {
	Task      *task.Task       `json:"task"`
	Lease     *lease.Lease     `json:"lease"`
	Context   *taskctx.Context `json:"context"`
	Score     float64          `json:"score"`
	Rationale string           `json:"rationale,omitempty"`
}

// Record is the durable form of an assignment, written before the
// assignment is handed out and replayed on restart.
type Record struct {
	AgentID    string      `json:"agent_id"`
	TaskID     string      `json:"task_id"`
	Lease      lease.Lease `json:"lease"`
	Score      float64     `json:"score"`
	AssignedAt time.Time   `json:"assigned_at"`
}

// Assigner selects and reserves tasks. Runs entirely under the core's
// serialization point.
type Assigner struct {
	graph      *task.Graph
	engine     *deps.Engine
	leases     *lease.Manager
	agents     *registry.Registry
	builder    *taskctx.Builder
	oracle     oracle.Oracle
	st         store.Store
	retryBound int
	excluded   map[string]bool
	now        func() time.Time
}

// NewAssigner wires the assigner. oracle may be nil; scoring then falls
// back to deterministic ordering alone. Tasks carrying any of the
// excluded labels never enter the agent pool.
func NewAssigner(g *task.Graph, e *deps.Engine, lm *lease.Manager, r *registry.Registry,
	b *taskctx.Builder, o oracle.Oracle, st store.Store, retryBound int, excludedLabels []string) *Assigner {
	if retryBound < 1 {
		retryBound = 1
	}
	excluded := make(map[string]bool, len(excludedLabels))
	for _, l := range excludedLabels {
		excluded[l] = true
	}
	return &Assigner{
		graph:      g,
		engine:     e,
		leases:     lm,
		agents:     r,
		builder:    b,
		oracle:     o,
		st:         st,
		retryBound: retryBound,
		excluded:   excluded,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *Assigner) SetClock(now func() time.Time) { a.now = now }

// RequestNextTask finds, reserves, and returns the best task for the
// agent. A repeated request while the agent still holds a lease returns
// the same assignment, so a retried call after a lost response is safe.
func (a *Assigner) RequestNextTask(ctx context.Context, agentID string) (*Assignment, error) {
	agent, err := a.agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	a.agents.Heartbeat(agentID)

	if held, ok := a.leases.TaskOf(agentID); ok {
		return a.rebuild(ctx, agent, held)
	}

	candidates := a.eligible(agent)
	if candidates == nil {
		// Label-excluded tasks are not agent work at all; only a pool the
		// agent could serve with better skills counts as a mismatch.
		pool := 0
		for _, t := range a.engine.ReadySet() {
			if t.OpenBlockers() == 0 && !a.excludedByLabel(t) {
				pool++
			}
		}
		if pool == 0 {
			return nil, types.E(types.KindNoReadyTask, "no ready tasks for agent %s", agentID)
		}
		return nil, types.E(types.KindCapabilityMismatch,
			"no ready task matches capabilities of agent %s", agentID)
	}

	scored := a.score(ctx, agent, candidates)
	for attempt := 0; attempt < a.retryBound && attempt < len(scored); attempt++ {
		pick := scored[attempt]
		asg, err := a.reserve(ctx, agent, pick)
		if err == nil {
			return asg, nil
		}
		if !types.IsKind(err, types.KindConflict) {
			return nil, err
		}
		logging.Assign("task %s conflicted for agent %s, trying next candidate", pick.t.ID, agentID)
	}
	return nil, types.E(types.KindConflict,
		"agent %s lost the race for every candidate within the retry bound", agentID)
}

// eligible filters the ready set: open blockers and agent-incompatible
// labels exclude a task, and the agent must cover the required
// capabilities. Returns nil when nothing passes.
func (a *Assigner) eligible(agent *registry.Agent) []*task.Task {
	var out []*task.Task
	for _, t := range a.engine.ReadySet() {
		if t.OpenBlockers() > 0 {
			continue
		}
		if a.excludedByLabel(t) {
			continue
		}
		if !agent.HasCapabilities(t.RequiredCapabilities) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (a *Assigner) excludedByLabel(t *task.Task) bool {
	for _, l := range t.Labels {
		if a.excluded[l] {
			return true
		}
	}
	return false
}

type scoredTask struct {
	t         *task.Task
	score     float64
	rationale string
}

// score ranks candidates by oracle fit, keeping the deterministic
// tie-break order for equal scores. Candidates arrive already ordered
// by the tie-break rule, and the sort below is stable.
//
// The whole pass runs under a single oracle budget: the serialization
// point is held for at most one deadline per request, not one per
// candidate. Candidates the model never reaches score deterministically.
func (a *Assigner) score(ctx context.Context, agent *registry.Agent, candidates []*task.Task) []scoredTask {
	if b, ok := a.oracle.(interface{ Budget() time.Duration }); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Budget())
		defer cancel()
	}
	out := make([]scoredTask, 0, len(candidates))
	for _, t := range candidates {
		st := scoredTask{t: t}
		if a.oracle != nil {
			fit, err := a.oracle.ScoreFit(ctx, a.fitRequest(agent, t))
			if err == nil {
				st.score = fit.Score
				st.rationale = fit.Rationale
			}
		}
		out = append(out, st)
	}
	stableSortByScore(out)
	return out
}

func stableSortByScore(ts []scoredTask) {
	// Insertion sort keeps the pre-established tie-break order stable.
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].score > ts[j-1].score; j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

func (a *Assigner) fitRequest(agent *registry.Agent, t *task.Task) oracle.FitRequest {
	return oracle.FitRequest{
		Task:              t,
		AgentID:           agent.ID,
		Capabilities:      agent.Capabilities,
		LabelSuccessRatio: agent.SuccessRatio(t.Labels),
	}
}

// reserve moves the task to in-progress under a fresh lease and writes
// the durable record. Any failure unwinds completely so the task stays
// assignable.
func (a *Assigner) reserve(ctx context.Context, agent *registry.Agent, pick scoredTask) (*Assignment, error) {
	id := pick.t.ID
	if !a.graph.Ready(id) {
		return nil, types.E(types.KindConflict, "task %s no longer ready", id)
	}
	l, err := a.leases.Grant(id, agent.ID)
	if err != nil {
		return nil, err
	}
	if err := a.graph.SetStatus(id, task.StatusInProgress); err != nil {
		a.leases.Release(id)
		return nil, err
	}
	a.graph.SetAssignee(id, agent.ID)
	a.agents.SetAssignment(agent.ID, id)

	rec := Record{
		AgentID:    agent.ID,
		TaskID:     id,
		Lease:      *l,
		Score:      pick.score,
		AssignedAt: a.now(),
	}
	if err := store.PutJSON(a.st, store.AssignmentKey(agent.ID), rec); err != nil {
		a.unwind(agent.ID, id)
		return nil, types.E(types.KindPersistenceFailure, "persist assignment: %v", err)
	}

	snap, _ := a.graph.Snapshot(id)
	c, err := a.builder.Build(ctx, id, a.fitRequest(agent, snap))
	if err != nil {
		a.st.Delete(store.AssignmentKey(agent.ID))
		a.unwind(agent.ID, id)
		return nil, err
	}

	logging.Assign("assigned %s to %s (score %.2f, lease v%d)", id, agent.ID, pick.score, l.Version)
	return &Assignment{Task: snap, Lease: l, Context: c, Score: pick.score, Rationale: pick.rationale}, nil
}

func (a *Assigner) unwind(agentID, taskID string) {
	a.leases.Release(taskID)
	a.graph.SetStatus(taskID, task.StatusTodo)
	a.graph.SetAssignee(taskID, "")
	a.agents.SetAssignment(agentID, "")
}

// rebuild reconstructs the open assignment for an agent that already
// holds a lease.
func (a *Assigner) rebuild(ctx context.Context, agent *registry.Agent, taskID string) (*Assignment, error) {
	l, ok := a.leases.Holder(taskID)
	if !ok || l.AgentID != agent.ID {
		return nil, types.E(types.KindConflict, "lease records inconsistent for agent %s", agent.ID)
	}
	snap, err := a.graph.Snapshot(taskID)
	if err != nil {
		return nil, err
	}
	c, err := a.builder.Build(ctx, taskID, a.fitRequest(agent, snap))
	if err != nil {
		return nil, err
	}
	var rec Record
	score := 0.0
	if err := store.GetJSON(a.st, store.AssignmentKey(agent.ID), &rec); err == nil {
		score = rec.Score
	}
	logging.AssignDebug("returned open assignment %s to %s", taskID, agent.ID)
	return &Assignment{Task: snap, Lease: l, Context: c, Score: score}, nil
}

// Drop abandons an assignment: the lease is released, the task returns
// to the pool, and the durable record is cleared. Used by the sweeper
// on expiry and by the progress handler on failure.
func (a *Assigner) Drop(agentID, taskID string, backTo task.Status) error {
	a.leases.Release(taskID)
	if err := a.graph.SetStatus(taskID, backTo); err != nil {
		return err
	}
	a.graph.SetAssignee(taskID, "")
	a.agents.SetAssignment(agentID, "")
	if err := a.st.Delete(store.AssignmentKey(agentID)); err != nil && !store.IsNotFound(err) {
		return types.E(types.KindPersistenceFailure, "clear assignment record: %v", err)
	}
	return nil
}
