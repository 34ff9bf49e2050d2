// Package lease implements time-bounded claims of agents over tasks.
// Exactly one active lease per task, exactly one per agent; renewal is
// driven by progress reports, expiry by the core's sweeper.
package lease

import (
	"sort"
	"time"

	"marcus/internal/logging"
	"marcus/internal/types"
)

// Lease binds an agent to a task until it expires or is released.
type Lease struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int       `json:"version"` // increases per task across grants and renewals
	Renewals  int       `json:"renewals"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Clone returns a copy safe to hand outside the serialization point.
func (l *Lease) Clone() *Lease {
	cp := *l
	return &cp
}

// Manager grants, renews, and expires leases. Single-writer; the core
// serializes access.
type Manager struct {
	byTask   map[string]*Lease
	byAgent  map[string]string // agent id -> task id
	versions map[string]int    // per-task version counter, survives release
	duration time.Duration
	now      func() time.Time
}

// NewManager creates a manager issuing leases of the given duration.
func NewManager(duration time.Duration) *Manager {
	return &Manager{
		byTask:   make(map[string]*Lease),
		byAgent:  make(map[string]string),
		versions: make(map[string]int),
		duration: duration,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Duration returns the configured lease duration.
func (m *Manager) Duration() time.Duration { return m.duration }

// Grant issues a lease on a task to an agent. Fails with Conflict when
// the task already carries an active lease or the agent holds one.
func (m *Manager) Grant(taskID, agentID string) (*Lease, error) {
	if cur, ok := m.byTask[taskID]; ok {
		return nil, types.E(types.KindConflict,
			"task %s already leased to %s", taskID, cur.AgentID)
	}
	if held, ok := m.byAgent[agentID]; ok {
		return nil, types.E(types.KindConflict,
			"agent %s already holds lease on %s", agentID, held)
	}
	now := m.now()
	m.versions[taskID]++
	l := &Lease{
		TaskID:    taskID,
		AgentID:   agentID,
		GrantedAt: now,
		ExpiresAt: now.Add(m.duration),
		Version:   m.versions[taskID],
	}
	m.byTask[taskID] = l
	m.byAgent[agentID] = taskID
	logging.Lease("granted lease on %s to %s (v%d, expires %s)", taskID, agentID, l.Version, l.ExpiresAt.Format(time.RFC3339))
	return l.Clone(), nil
}

// Renew extends the lease by the configured duration. A renewal from a
// non-holder fails with WrongLeaseHolder; a renewal after expiry fails
// with LeaseExpired, forcing the agent to request a fresh task.
func (m *Manager) Renew(taskID, agentID string) (*Lease, error) {
	l, ok := m.byTask[taskID]
	if !ok {
		return nil, types.E(types.KindLeaseExpired, "no active lease on task %s", taskID)
	}
	if l.AgentID != agentID {
		return nil, types.E(types.KindWrongLeaseHolder,
			"lease on %s is held by %s, not %s", taskID, l.AgentID, agentID)
	}
	if l.Expired(m.now()) {
		return nil, types.E(types.KindLeaseExpired,
			"lease on %s expired at %s", taskID, l.ExpiresAt.Format(time.RFC3339))
	}
	m.versions[taskID]++
	l.Version = m.versions[taskID]
	l.Renewals++
	l.ExpiresAt = m.now().Add(m.duration)
	logging.LeaseDebug("renewed lease on %s for %s (v%d)", taskID, agentID, l.Version)
	return l.Clone(), nil
}

// Holder returns the active lease on a task, if any.
func (m *Manager) Holder(taskID string) (*Lease, bool) {
	l, ok := m.byTask[taskID]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// TaskOf returns the task an agent currently leases, if any.
func (m *Manager) TaskOf(agentID string) (string, bool) {
	t, ok := m.byAgent[agentID]
	return t, ok
}

// Release drops the lease on a task. Completion, abandonment, and
// cancellation all end here; releasing an unleased task is a no-op.
func (m *Manager) Release(taskID string) {
	l, ok := m.byTask[taskID]
	if !ok {
		return
	}
	delete(m.byTask, taskID)
	delete(m.byAgent, l.AgentID)
	logging.LeaseDebug("released lease on %s (held by %s)", taskID, l.AgentID)
}

// Expired returns the leases lapsed at the given instant, task-id
// ordered so sweeps are deterministic.
func (m *Manager) Expired(now time.Time) []*Lease {
	var out []*Lease
	for _, l := range m.byTask {
		if l.Expired(now) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Active returns the number of live leases.
func (m *Manager) Active() int { return len(m.byTask) }

// Restore reinstates a lease from the durable assignment record after a
// restart. Versions resume from the restored value.
func (m *Manager) Restore(l *Lease) {
	cp := l.Clone()
	m.byTask[cp.TaskID] = cp
	m.byAgent[cp.AgentID] = cp.TaskID
	if m.versions[cp.TaskID] < cp.Version {
		m.versions[cp.TaskID] = cp.Version
	}
}
