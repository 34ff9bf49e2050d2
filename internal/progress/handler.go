// Package progress handles everything an agent reports while working:
// progress percentages, blockers, decisions, artifacts, and completion
// with its downstream effects (lease release, dependent readiness,
// parent rollup).
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marcus/internal/assign"
	"marcus/internal/lease"
	"marcus/internal/logging"
	"marcus/internal/oracle"
	"marcus/internal/provider"
	"marcus/internal/registry"
	"marcus/internal/store"
	"marcus/internal/task"
	"marcus/internal/types"
)

// MonotonicPolicy decides what happens when a progress report moves
// backwards.
type MonotonicPolicy string

const (
	// PolicyReject refuses the report with NonMonotonic.
	PolicyReject MonotonicPolicy = "reject"
	// PolicyClamp accepts the report but keeps the high-water mark.
	PolicyClamp MonotonicPolicy = "clamp"
)

// Report is one progress update from an agent.
type Report struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Done    bool   `json:"done"`
}

// Ack is the handler's answer to a report: the refreshed lease and
// whether the task (and possibly its parent) completed.
type Ack struct {
	Lease           *lease.Lease `json:"lease,omitempty"`
	Percent         int          `json:"percent"`
	Completed       bool         `json:"completed"`
	ParentCompleted string       `json:"parent_completed,omitempty"`
	ReadiedTasks    []string     `json:"readied_tasks,omitempty"`
}

// BlockerAck answers a blocker report with mitigation advice. The lease
// is kept so the agent can resume in place once unblocked.
type BlockerAck struct {
	Lease      *lease.Lease      `json:"lease,omitempty"`
	Mitigation oracle.Mitigation `json:"mitigation"`
}

// Handler processes agent reports. Runs under the core's serialization
// point; provider mirroring happens inline but is best-effort.
type Handler struct {
	graph    *task.Graph
	leases   *lease.Manager
	agents   *registry.Registry
	assigner *assign.Assigner
	oracle   oracle.Oracle
	prov     provider.Provider
	st       store.Store
	policy   MonotonicPolicy
	now      func() time.Time
}

// NewHandler wires the progress handler. prov and oracle may be nil.
func NewHandler(g *task.Graph, lm *lease.Manager, r *registry.Registry, a *assign.Assigner,
	o oracle.Oracle, p provider.Provider, st store.Store, policy MonotonicPolicy) *Handler {
	if policy != PolicyClamp {
		policy = PolicyReject
	}
	return &Handler{
		graph:    g,
		leases:   lm,
		agents:   r,
		assigner: a,
		oracle:   o,
		prov:     p,
		st:       st,
		policy:   policy,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// holderCheck verifies the reporting agent holds the lease on the task.
// All report paths start here. allowExpired lets a completion through on
// a lease the sweeper has not reclaimed yet: finishing the work is
// always better than redoing it, and completion cancels the lease
// anyway. Renewals never pass an expired lease.
func (h *Handler) holderCheck(taskID, agentID string, allowExpired bool) error {
	l, ok := h.leases.Holder(taskID)
	if !ok {
		return types.E(types.KindLeaseExpired, "no active lease on task %s", taskID)
	}
	if l.AgentID != agentID {
		return types.E(types.KindNotHolder,
			"lease on %s is held by %s, not %s", taskID, l.AgentID, agentID)
	}
	if !allowExpired && l.Expired(h.now()) {
		return types.E(types.KindLeaseExpired,
			"lease on %s expired at %s", taskID, l.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// HandleReport applies one progress report: monotonicity policy, lease
// renewal, provider mirror, and on completion the full downstream
// cascade.
func (h *Handler) HandleReport(ctx context.Context, rep Report) (*Ack, error) {
	t, err := h.graph.Get(rep.TaskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusInProgress {
		return nil, types.E(types.KindInvalidTransition,
			"task %s is %s, not in progress", rep.TaskID, t.Status)
	}
	if rep.Percent < 0 || rep.Percent > 100 {
		return nil, types.E(types.KindNonMonotonic, "percent %d out of range", rep.Percent)
	}
	completing := rep.Done || rep.Percent == 100
	if err := h.holderCheck(rep.TaskID, rep.AgentID, completing); err != nil {
		return nil, err
	}

	pct := rep.Percent
	if rep.Done {
		pct = 100
	}
	if pct < t.Progress {
		if h.policy == PolicyReject {
			return nil, types.E(types.KindNonMonotonic,
				"progress on %s cannot drop from %d%% to %d%%", rep.TaskID, t.Progress, pct)
		}
		logging.Progress("clamped regressive report on %s (%d%% kept over %d%%)", rep.TaskID, t.Progress, pct)
		pct = t.Progress
	}
	h.graph.SetProgress(rep.TaskID, pct)
	h.agents.Heartbeat(rep.AgentID)

	if rep.Done || pct == 100 {
		return h.complete(ctx, rep)
	}

	l, err := h.leases.Renew(rep.TaskID, rep.AgentID)
	if err != nil {
		return nil, err
	}
	h.persistLease(rep.AgentID, l)
	h.comment(ctx, rep.TaskID, fmt.Sprintf("progress: %d%% - %s", pct, rep.Message))
	return &Ack{Lease: l, Percent: pct}, nil
}

// complete finishes the task: terminal status, lease release, outcome
// bookkeeping, newly ready dependents, and parent rollup when the last
// sibling lands.
func (h *Handler) complete(ctx context.Context, rep Report) (*Ack, error) {
	if err := h.graph.SetStatus(rep.TaskID, task.StatusDone); err != nil {
		return nil, err
	}
	h.graph.SetProgress(rep.TaskID, 100)
	h.leases.Release(rep.TaskID)
	h.agents.SetAssignment(rep.AgentID, "")
	if err := h.st.Delete(store.AssignmentKey(rep.AgentID)); err != nil && !store.IsNotFound(err) {
		logging.Progress("clearing assignment record for %s: %v", rep.AgentID, err)
	}

	t, _ := h.graph.Get(rep.TaskID)
	h.agents.RecordOutcome(rep.AgentID, t.Labels, true)
	h.persistTask(rep.TaskID)

	ack := &Ack{Percent: 100, Completed: true}
	for _, d := range h.graph.DependentsOf(rep.TaskID) {
		if h.graph.Ready(d.ID) {
			ack.ReadiedTasks = append(ack.ReadiedTasks, d.ID)
		}
	}

	h.setProviderStatus(ctx, rep.TaskID, task.StatusDone)
	h.comment(ctx, rep.TaskID, fmt.Sprintf("completed by %s - %s", rep.AgentID, rep.Message))

	if parent := h.rollup(ctx, t.ParentID); parent != "" {
		ack.ParentCompleted = parent
	}

	logging.Progress("task %s completed by %s (%d now ready)", rep.TaskID, rep.AgentID, len(ack.ReadiedTasks))
	return ack, nil
}

// rollup completes the parent once every child is terminal and at least
// one is done. Returns the parent id when it completed.
func (h *Handler) rollup(ctx context.Context, parentID string) string {
	if parentID == "" {
		return ""
	}
	parent, err := h.graph.Get(parentID)
	if err != nil || parent.Status.Terminal() {
		return ""
	}
	kids := h.graph.ChildrenOf(parentID)
	doneCount := 0
	for _, k := range kids {
		if !k.Status.Terminal() {
			return ""
		}
		if k.Status == task.StatusDone {
			doneCount++
		}
	}
	if doneCount == 0 {
		return ""
	}

	// Parents complete through the same state machine; a todo parent moves
	// through in_progress first.
	if parent.Status == task.StatusTodo {
		if err := h.graph.SetStatus(parentID, task.StatusInProgress); err != nil {
			return ""
		}
	}
	if err := h.graph.SetStatus(parentID, task.StatusDone); err != nil {
		logging.Progress("parent %s rollup failed: %v", parentID, err)
		return ""
	}
	h.graph.SetProgress(parentID, 100)
	h.persistTask(parentID)

	h.setProviderStatus(ctx, parentID, task.StatusDone)
	h.comment(ctx, parentID, fmt.Sprintf("all %d subtasks complete (%d done)", len(kids), doneCount))
	logging.Progress("parent %s completed via subtask rollup", parentID)
	return parentID
}

// HandleBlocker records a blocker, moves the task to blocked, keeps the
// lease alive, and returns mitigation advice.
func (h *Handler) HandleBlocker(ctx context.Context, taskID, agentID, description string, severity task.BlockerSeverity) (*BlockerAck, error) {
	t, err := h.graph.Get(taskID)
	if err != nil {
		return nil, err
	}
	if err := h.holderCheck(taskID, agentID, false); err != nil {
		return nil, err
	}
	if severity == "" {
		severity = task.BlockerMedium
	}

	b := task.Blocker{
		Description: description,
		Severity:    severity,
		ReportedBy:  agentID,
		ReportedAt:  h.now(),
	}
	h.graph.AddBlocker(taskID, b)
	if t.Status != task.StatusBlocked {
		if err := h.graph.SetStatus(taskID, task.StatusBlocked); err != nil {
			return nil, err
		}
	}
	h.persistTask(taskID)

	// The lease survives a blocker so the agent can resume in place. The
	// renewal also buys time for the mitigation to play out.
	l, err := h.leases.Renew(taskID, agentID)
	if err != nil {
		return nil, err
	}
	h.persistLease(agentID, l)

	ack := &BlockerAck{Lease: l}
	if h.oracle != nil {
		if m, err := h.oracle.SuggestMitigation(ctx, t, b); err == nil {
			ack.Mitigation = m
		}
	}

	h.setProviderStatus(ctx, taskID, task.StatusBlocked)
	h.comment(ctx, taskID, fmt.Sprintf("blocked (%s): %s", severity, description))
	logging.Progress("task %s blocked by %s: %s", taskID, agentID, description)
	return ack, nil
}

// HandleUnblock resolves the open blockers and resumes the task.
func (h *Handler) HandleUnblock(ctx context.Context, taskID, agentID string) error {
	t, err := h.graph.Get(taskID)
	if err != nil {
		return err
	}
	_, held := h.leases.Holder(taskID)
	if t.Status == task.StatusBlocked && !held {
		// The holder's lease lapsed while the task sat blocked. Resolving
		// the blocker returns the task to the pool instead of resuming.
		if err := h.graph.SetStatus(taskID, task.StatusTodo); err != nil {
			return err
		}
		h.graph.ResolveBlockers(taskID)
		h.graph.SetAssignee(taskID, "")
		h.persistTask(taskID)
		h.setProviderStatus(ctx, taskID, task.StatusTodo)
		h.comment(ctx, taskID, "unblocked, returned to pool")
		return nil
	}
	if err := h.holderCheck(taskID, agentID, false); err != nil {
		return err
	}
	if err := h.graph.SetStatus(taskID, task.StatusInProgress); err != nil {
		return err
	}
	h.graph.ResolveBlockers(taskID)
	h.persistTask(taskID)
	if l, err := h.leases.Renew(taskID, agentID); err == nil {
		h.persistLease(agentID, l)
	}
	h.setProviderStatus(ctx, taskID, task.StatusInProgress)
	h.comment(ctx, taskID, "unblocked, resuming")
	return nil
}

// LogDecision appends an immutable decision record, durably and in the
// graph, and mirrors it as a comment.
func (h *Handler) LogDecision(ctx context.Context, taskID, agentID, text string) (*task.Decision, error) {
	if _, err := h.graph.Get(taskID); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("decision text must not be empty")
	}
	d := task.Decision{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		Timestamp: h.now(),
		Text:      text,
	}
	if err := h.graph.AddDecision(d); err != nil {
		return nil, err
	}
	if err := store.PutJSON(h.st, store.DecisionKey(taskID, d.ID), d); err != nil {
		return nil, types.E(types.KindPersistenceFailure, "persist decision: %v", err)
	}
	h.comment(ctx, taskID, "decision: "+text)
	return &d, nil
}

// LogArtifact records artifact metadata. An empty location places the
// file under the canonical directory for its type; an explicit location
// is honored verbatim, and relogging the same explicit location updates
// the earlier record instead of duplicating it.
func (h *Handler) LogArtifact(ctx context.Context, taskID, agentID, filename string, typ task.ArtifactType, location string) (*task.Artifact, error) {
	if _, err := h.graph.Get(taskID); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, fmt.Errorf("artifact filename must not be empty")
	}
	if !typ.Valid() {
		typ = task.ArtifactOther
	}

	a := task.Artifact{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		Filename:  filename,
		Type:      typ,
		CreatedAt: h.now(),
	}
	explicit := location != ""
	if explicit {
		a.Location = location
	} else {
		a.Location = typ.CanonicalDir() + filename
	}

	if explicit {
		if err := h.graph.UpsertArtifactAt(a); err != nil {
			return nil, err
		}
		// The upsert keeps the earlier record's id when it replaces one.
		for _, existing := range h.graph.ArtifactsFor(taskID) {
			if existing.Location == a.Location {
				a = existing
				break
			}
		}
	} else if err := h.graph.AddArtifact(a); err != nil {
		return nil, err
	}
	if err := store.PutJSON(h.st, store.ArtifactKey(taskID, a.ID), a); err != nil {
		return nil, types.E(types.KindPersistenceFailure, "persist artifact: %v", err)
	}
	h.comment(ctx, taskID, fmt.Sprintf("artifact: %s (%s) at %s", filename, typ, a.Location))
	return &a, nil
}

func (h *Handler) persistTask(taskID string) {
	snap, err := h.graph.Snapshot(taskID)
	if err != nil {
		return
	}
	if err := store.PutJSON(h.st, store.TaskKey(taskID), snap); err != nil {
		logging.Progress("persisting task %s: %v", taskID, err)
	}
}

func (h *Handler) persistLease(agentID string, l *lease.Lease) {
	var rec assign.Record
	if err := store.GetJSON(h.st, store.AssignmentKey(agentID), &rec); err != nil {
		return
	}
	rec.Lease = *l
	if err := store.PutJSON(h.st, store.AssignmentKey(agentID), rec); err != nil {
		logging.Progress("persisting lease for %s: %v", agentID, err)
	}
}

// comment mirrors a line to the provider board. Best-effort: a failure
// is logged and left to reconciliation.
func (h *Handler) comment(ctx context.Context, taskID, text string) {
	if h.prov == nil {
		return
	}
	if err := h.prov.AddComment(ctx, taskID, text, uuid.NewString()); err != nil {
		logging.Progress("provider comment on %s: %v", taskID, err)
	}
}

func (h *Handler) setProviderStatus(ctx context.Context, taskID string, s task.Status) {
	if h.prov == nil {
		return
	}
	if err := h.prov.SetStatus(ctx, taskID, s, uuid.NewString()); err != nil {
		logging.Progress("provider status on %s: %v", taskID, err)
	}
}
