// Package core is the serialization point of the coordination server.
// All state mutation funnels through one Core value guarded by a single
// coarse mutex; the graph, lease manager, and registry underneath carry
// no locking of their own. Tool dispatch, background workers, and
// restart recovery all live here.
package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marcus/internal/assign"
	"marcus/internal/config"
	"marcus/internal/deps"
	"marcus/internal/diagnostics"
	"marcus/internal/lease"
	"marcus/internal/logging"
	"marcus/internal/oracle"
	"marcus/internal/progress"
	"marcus/internal/provider"
	"marcus/internal/registry"
	"marcus/internal/store"
	"marcus/internal/task"
	"marcus/internal/taskctx"
	"marcus/internal/types"
)

// Event is a board occurrence emitted for observers. Delivery is
// best-effort; a slow consumer drops events rather than stalling the
// core.
type Event struct {
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Time    time.Time `json:"time"`
	Detail  string    `json:"detail,omitempty"`
}

// Core owns all coordination state.
type Core struct {
	mu  sync.RWMutex
	cfg *config.Config

	graph    *task.Graph
	engine   *deps.Engine
	leases   *lease.Manager
	agents   *registry.Registry
	builder  *taskctx.Builder
	assigner *assign.Assigner
	handler  *progress.Handler
	analyzer *diagnostics.Analyzer
	orc      oracle.Oracle
	prov     provider.Provider
	mirror   *provider.Mirror
	st       store.Store

	events     chan Event
	lastReport *diagnostics.Report
	now        func() time.Time
}

// New wires a core from its backends. orc may be nil; the deterministic
// fallback is installed either way. Provider mutations run through an
// asynchronous mirror so board operations never wait on backend I/O.
func New(cfg *config.Config, st store.Store, prov provider.Provider, orc oracle.Oracle) *Core {
	var mirrored provider.Provider
	var mirror *provider.Mirror
	if prov != nil {
		mirror = provider.NewMirror(prov, 256, cfg.Provider.CallTimeout())
		mirrored = mirror
	}

	g := task.NewGraph()
	e := deps.NewEngine(g, cfg.Oracle.ConfidenceThreshold)
	lm := lease.NewManager(cfg.Lease.LeaseDuration())
	r := registry.NewRegistry()

	bounded := oracle.Bound(orc, oracle.NewFallback(cfg.Oracle.ConfidenceThreshold), cfg.Oracle.OracleDeadline())
	builder := taskctx.NewBuilder(g, e, bounded)
	assigner := assign.NewAssigner(g, e, lm, r, builder, bounded, st,
		cfg.Assignment.RetryBound, cfg.Assignment.ExcludedLabels)
	handler := progress.NewHandler(g, lm, r, assigner, bounded, mirrored,
		st, progress.MonotonicPolicy(cfg.Assignment.MonotonicPolicy))
	analyzer := diagnostics.NewAnalyzer(g, e, r,
		cfg.Diagnostics.BottleneckThreshold, cfg.Diagnostics.LongChainDepth)

	return &Core{
		cfg:      cfg,
		graph:    g,
		engine:   e,
		leases:   lm,
		agents:   r,
		builder:  builder,
		assigner: assigner,
		handler:  handler,
		analyzer: analyzer,
		orc:      bounded,
		prov:     mirrored,
		mirror:   mirror,
		st:       st,
		events:   make(chan Event, 256),
		now:      time.Now,
	}
}

// SetClock overrides the time source everywhere. Test hook.
func (c *Core) SetClock(now func() time.Time) {
	c.now = now
	c.graph.SetClock(now)
	c.leases.SetClock(now)
	c.agents.SetClock(now)
	c.assigner.SetClock(now)
	c.handler.SetClock(now)
	c.analyzer.SetClock(now)
}

// Events returns the observer channel.
func (c *Core) Events() <-chan Event { return c.events }

func (c *Core) emit(typ, taskID, agentID, detail string) {
	select {
	case c.events <- Event{Type: typ, TaskID: taskID, AgentID: agentID, Time: c.now(), Detail: detail}:
	default:
		logging.WorkerDebug("event channel full, dropped %s", typ)
	}
}

// RegisterAgent registers or refreshes an agent. Registration is
// idempotent: the same id re-registers and keeps its history.
func (c *Core) RegisterAgent(id, role string, capabilities []string) (*registry.Agent, bool, error) {
	if id == "" {
		return nil, false, types.E(types.KindUnknownAgent, "agent id must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	already := c.agents.Register(id, role, capabilities)
	agent, err := c.agents.Snapshot(id)
	if err != nil {
		return nil, false, err
	}
	if err := store.PutJSON(c.st, store.AgentKey(id), agent); err != nil {
		logging.Registry("persisting agent %s: %v", id, err)
	}
	c.emit("agent_registered", "", id, role)
	return agent, already, nil
}

// RequestNextTask assigns the best ready task to the agent. The oracle
// deadline bounds how long the serialization point is held.
func (c *Core) RequestNextTask(ctx context.Context, agentID string) (*assign.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	asg, err := c.assigner.RequestNextTask(ctx, agentID)
	if err != nil {
		return nil, err
	}
	c.emit("task_assigned", asg.Task.ID, agentID, "")
	return asg, nil
}

// EmptyAssignment is the answer to a request that found no task: the
// reason code plus a fresh board analysis so the agent (or its
// operator) can see what would help.
type EmptyAssignment struct {
	Empty       bool                `json:"empty"`
	Reason      string              `json:"reason"`
	Diagnostics *diagnostics.Report `json:"diagnostics,omitempty"`
}

func (c *Core) emptyAssignment(reason string) *EmptyAssignment {
	out := &EmptyAssignment{Empty: true, Reason: reason}
	if rep, err := c.Diagnose(); err == nil {
		out.Diagnostics = rep
	}
	return out
}

// ReportProgress applies a progress report.
func (c *Core) ReportProgress(ctx context.Context, rep progress.Report) (*progress.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ack, err := c.handler.HandleReport(ctx, rep)
	if err != nil {
		return nil, err
	}
	if ack.Completed {
		c.emit("task_completed", rep.TaskID, rep.AgentID, "")
		for _, r := range ack.ReadiedTasks {
			c.emit("task_ready", r, "", "unblocked by "+rep.TaskID)
		}
		if ack.ParentCompleted != "" {
			c.emit("task_completed", ack.ParentCompleted, "", "subtask rollup")
		}
	}
	return ack, nil
}

// ReportBlocker records a blocker and returns mitigation advice.
func (c *Core) ReportBlocker(ctx context.Context, taskID, agentID, description string, severity task.BlockerSeverity) (*progress.BlockerAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ack, err := c.handler.HandleBlocker(ctx, taskID, agentID, description, severity)
	if err != nil {
		return nil, err
	}
	c.emit("task_blocked", taskID, agentID, description)
	return ack, nil
}

// Unblock resolves a task's blockers and resumes it.
func (c *Core) Unblock(ctx context.Context, taskID, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.handler.HandleUnblock(ctx, taskID, agentID); err != nil {
		return err
	}
	c.emit("task_unblocked", taskID, agentID, "")
	return nil
}

// TaskContext builds the briefing for a task without assigning it.
func (c *Core) TaskContext(ctx context.Context, taskID string) (*taskctx.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, err := c.graph.Snapshot(taskID)
	if err != nil {
		return nil, err
	}
	req := oracle.FitRequest{Task: t}
	if t.Assignee != "" {
		if agent, err := c.agents.Get(t.Assignee); err == nil {
			req.AgentID = agent.ID
			req.Capabilities = agent.Capabilities
			req.LabelSuccessRatio = agent.SuccessRatio(t.Labels)
		}
	}
	return c.builder.Build(ctx, taskID, req)
}

// DependencyStatus answers check_task_dependencies: whether the task is
// assignable and what stands in the way.
type DependencyStatus struct {
	TaskID       string   `json:"task_id"`
	Ready        bool     `json:"ready"`
	WaitingOn    []string `json:"waiting_on,omitempty"` // unfinished hard predecessors
	Missing      []string `json:"missing,omitempty"`    // dangling hard references
	Mockable     []string `json:"mockable,omitempty"`   // soft predecessors
	Dependents   []string `json:"dependents,omitempty"` // tasks waiting on this one
	CriticalPath []string `json:"critical_path,omitempty"`
}

// CheckDependencies reports the dependency state of one task.
func (c *Core) CheckDependencies(taskID string) (*DependencyStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, err := c.graph.Get(taskID)
	if err != nil {
		return nil, err
	}
	ds := &DependencyStatus{TaskID: taskID, Ready: c.graph.Ready(taskID)}
	for _, d := range t.Dependencies {
		pred, err := c.graph.Get(d.TaskID)
		switch {
		case d.Type == task.DepSoft:
			ds.Mockable = append(ds.Mockable, d.TaskID)
		case err != nil:
			ds.Missing = append(ds.Missing, d.TaskID)
		case pred.Status != task.StatusDone:
			ds.WaitingOn = append(ds.WaitingOn, d.TaskID)
		}
	}
	for _, d := range c.graph.DependentsOf(taskID) {
		ds.Dependents = append(ds.Dependents, d.ID)
	}
	if path := c.engine.CriticalPath(taskID); len(path) > 1 {
		ds.CriticalPath = path
	}
	sort.Strings(ds.WaitingOn)
	sort.Strings(ds.Missing)
	sort.Strings(ds.Mockable)
	sort.Strings(ds.Dependents)
	return ds, nil
}

// LogDecision records an implementation decision against a task.
func (c *Core) LogDecision(ctx context.Context, taskID, agentID, text string) (*task.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.LogDecision(ctx, taskID, agentID, text)
}

// LogArtifact records artifact metadata against a task.
func (c *Core) LogArtifact(ctx context.Context, taskID, agentID, filename string, typ task.ArtifactType, location string) (*task.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.LogArtifact(ctx, taskID, agentID, filename, typ, location)
}

// ListAgents returns all registered agents.
func (c *Core) ListAgents() []*registry.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agents.List()
}

// AgentStatus returns one agent with its current lease, if any.
type AgentStatus struct {
	Agent *registry.Agent `json:"agent"`
	Lease *lease.Lease    `json:"lease,omitempty"`
}

// GetAgentStatus returns the agent's record and active lease.
func (c *Core) GetAgentStatus(agentID string) (*AgentStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agent, err := c.agents.Snapshot(agentID)
	if err != nil {
		return nil, err
	}
	st := &AgentStatus{Agent: agent}
	if taskID, ok := c.leases.TaskOf(agentID); ok {
		if l, ok := c.leases.Holder(taskID); ok {
			st.Lease = l
		}
	}
	return st, nil
}

// ProjectStatus is the board-level summary.
type ProjectStatus struct {
	Name         string              `json:"name"`
	Tasks        int                 `json:"tasks"`
	StatusCounts map[task.Status]int `json:"status_counts"`
	Percent      int                 `json:"percent"` // done tasks over all tasks
	ActiveLeases int                 `json:"active_leases"`
	Agents       int                 `json:"agents"`
	ReadyTasks   []string            `json:"ready_tasks,omitempty"`
}

// GetProjectStatus summarizes the board.
func (c *Core) GetProjectStatus() *ProjectStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ps := &ProjectStatus{
		Name:         c.cfg.Name,
		Tasks:        c.graph.Len(),
		StatusCounts: make(map[task.Status]int),
		ActiveLeases: c.leases.Active(),
		Agents:       c.agents.Len(),
	}
	for _, id := range c.graph.All() {
		t, _ := c.graph.Get(id)
		ps.StatusCounts[t.Status]++
	}
	if ps.Tasks > 0 {
		ps.Percent = 100 * ps.StatusCounts[task.StatusDone] / ps.Tasks
	}
	for _, t := range c.engine.ReadySet() {
		ps.ReadyTasks = append(ps.ReadyTasks, t.ID)
	}
	return ps
}

// BoardHealth returns the cached health score, running a fresh analysis
// when none exists yet.
func (c *Core) BoardHealth() (*diagnostics.Report, error) {
	c.mu.RLock()
	if c.lastReport != nil {
		rep := c.lastReport
		c.mu.RUnlock()
		return rep, nil
	}
	c.mu.RUnlock()
	return c.Diagnose()
}

// Diagnose runs a fresh board analysis.
func (c *Core) Diagnose() (*diagnostics.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep, err := c.analyzer.Analyze()
	if err != nil {
		return nil, err
	}
	c.lastReport = rep
	return rep, nil
}

// ImportTasks bulk-loads tasks, parents before children, runs inference
// over the batch, and mirrors the cards to the provider. Edges pointing
// at absent tasks are allowed; diagnostics reports them.
func (c *Core) ImportTasks(ctx context.Context, tasks []*task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := append([]*task.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		// Parents first so subtask validation can see them.
		return (ordered[i].ParentID == "") && (ordered[j].ParentID != "")
	})
	for _, t := range ordered {
		if err := c.graph.Add(t); err != nil {
			return err
		}
		if err := store.PutJSON(c.st, store.TaskKey(t.ID), t); err != nil {
			return types.E(types.KindPersistenceFailure, "persist task %s: %v", t.ID, err)
		}
		if c.prov != nil {
			card := provider.Card{ID: t.ID, Name: t.Name, Description: t.Description, Status: t.Status, Labels: t.Labels}
			if _, err := c.prov.CreateTask(ctx, card, "import-"+t.ID); err != nil {
				logging.Provider("mirroring imported task %s: %v", t.ID, err)
			}
		}
		c.emit("task_created", t.ID, "", "")
	}

	if applied := c.engine.ApplyInferred(c.inferEdges(ctx, ordered)); applied > 0 {
		logging.Deps("applied %d inferred edges on import", applied)
	}
	return nil
}

func (c *Core) inferEdges(ctx context.Context, tasks []*task.Task) []deps.CandidateEdge {
	edges, err := c.orc.InferDependencies(ctx, tasks)
	if err != nil {
		return nil
	}
	return edges
}

// AddDependency adds an explicit edge (dependent waits on predecessor).
func (c *Core) AddDependency(dependent, predecessor string, typ task.DependencyType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.engine.AddEdge(dependent, predecessor, typ); err != nil {
		if types.IsKind(err, types.KindCycleWouldForm) {
			c.emit("cycle_prevented", dependent, "", "edge to "+predecessor+" rejected")
		}
		return err
	}
	if snap, err := c.graph.Snapshot(dependent); err == nil {
		store.PutJSON(c.st, store.TaskKey(dependent), snap)
	}
	return nil
}

// CancelTask cancels a task that has not started.
func (c *Core) CancelTask(ctx context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.graph.SetStatus(taskID, task.StatusCancelled); err != nil {
		return err
	}
	if snap, err := c.graph.Snapshot(taskID); err == nil {
		store.PutJSON(c.st, store.TaskKey(taskID), snap)
	}
	if c.prov != nil {
		if err := c.prov.SetStatus(ctx, taskID, task.StatusCancelled, uuid.NewString()); err != nil {
			logging.Provider("mirroring cancel of %s: %v", taskID, err)
		}
	}
	c.emit("task_cancelled", taskID, "", "")
	return nil
}

// Recover rebuilds in-memory state from the durable store after a
// restart: tasks, decisions, artifacts, agents, and assignments. An
// assignment whose lease already lapsed is recovered as an orphan: the
// task returns to the pool with a note.
func (c *Core) Recover() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.recoverTasks(); err != nil {
		return err
	}
	c.recoverSidecars()
	c.recoverAgents()
	return c.recoverAssignments()
}

func (c *Core) recoverTasks() error {
	kvs, err := c.st.Scan("tasks/")
	if err != nil {
		return types.E(types.KindPersistenceFailure, "scan tasks: %v", err)
	}
	var tasks []*task.Task
	for _, kv := range kvs {
		var t task.Task
		if err := store.GetJSON(c.st, kv.Key, &t); err != nil {
			logging.Store("skipping corrupt task record %s: %v", kv.Key, err)
			continue
		}
		tasks = append(tasks, &t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return (tasks[i].ParentID == "") && (tasks[j].ParentID != "")
	})
	for _, t := range tasks {
		if err := c.graph.Add(t); err != nil {
			logging.Store("skipping unloadable task %s: %v", t.ID, err)
		}
	}
	logging.Boot("recovered %d tasks", c.graph.Len())
	return nil
}

func (c *Core) recoverSidecars() {
	if kvs, err := c.st.Scan("decisions/"); err == nil {
		for _, kv := range kvs {
			var d task.Decision
			if store.GetJSON(c.st, kv.Key, &d) == nil {
				c.graph.AddDecision(d)
			}
		}
	}
	if kvs, err := c.st.Scan("artifacts/"); err == nil {
		for _, kv := range kvs {
			var a task.Artifact
			if store.GetJSON(c.st, kv.Key, &a) == nil {
				c.graph.AddArtifact(a)
			}
		}
	}
}

func (c *Core) recoverAgents() {
	kvs, err := c.st.Scan("agents/")
	if err != nil {
		return
	}
	for _, kv := range kvs {
		var a registry.Agent
		if store.GetJSON(c.st, kv.Key, &a) == nil && a.ID != "" {
			c.agents.Register(a.ID, a.Role, a.Capabilities)
		}
	}
}

func (c *Core) recoverAssignments() error {
	kvs, err := c.st.Scan("assignments/")
	if err != nil {
		return types.E(types.KindPersistenceFailure, "scan assignments: %v", err)
	}
	now := c.now()
	for _, kv := range kvs {
		var rec assign.Record
		if err := store.GetJSON(c.st, kv.Key, &rec); err != nil {
			logging.Store("skipping corrupt assignment record %s: %v", kv.Key, err)
			continue
		}
		t, err := c.graph.Get(rec.TaskID)
		if err != nil || t.Status.Terminal() {
			c.st.Delete(kv.Key)
			continue
		}
		if rec.Lease.Expired(now) {
			// Orphan: holder never came back. Return the task to the pool.
			agentID := strings.TrimPrefix(kv.Key, "assignments/")
			if t.Status != task.StatusTodo {
				if err := c.graph.SetStatus(rec.TaskID, task.StatusTodo); err != nil {
					logging.Boot("orphan %s not recoverable: %v", rec.TaskID, err)
					continue
				}
			}
			c.graph.SetAssignee(rec.TaskID, "")
			c.graph.AddNote(rec.TaskID, "recovered after restart: lease of "+rec.AgentID+" lapsed")
			c.st.Delete(kv.Key)
			logging.Boot("orphaned task %s returned to pool (was held by %s)", rec.TaskID, agentID)
			c.emit("task_recovered", rec.TaskID, rec.AgentID, "orphaned assignment")
			continue
		}
		c.leases.Restore(&rec.Lease)
		if _, err := c.agents.Get(rec.AgentID); err != nil {
			c.agents.Register(rec.AgentID, string(types.RoleAgent), nil)
		}
		c.agents.SetAssignment(rec.AgentID, rec.TaskID)
		// The record is written before the status flip is persisted, so
		// the loaded task may still read todo.
		if t.Status == task.StatusTodo {
			if err := c.graph.SetStatus(rec.TaskID, task.StatusInProgress); err != nil {
				logging.Boot("restoring status of %s: %v", rec.TaskID, err)
			}
		}
		c.graph.SetAssignee(rec.TaskID, rec.AgentID)
		logging.Boot("restored live assignment %s -> %s (expires %s)",
			rec.TaskID, rec.AgentID, rec.Lease.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// FlushMirror blocks until queued provider writes have been applied.
// Test and shutdown hook.
func (c *Core) FlushMirror() {
	if c.mirror != nil {
		c.mirror.Flush()
	}
}

// Close drains the provider mirror and closes the event stream.
func (c *Core) Close() error {
	if c.mirror != nil {
		c.mirror.Close()
	}
	close(c.events)
	return nil
}
