// Package registry tracks agent identities, capabilities, heartbeats,
// current assignments, and a rolling per-label performance window used
// by the fallback fit scorer.
package registry

import (
	"sort"
	"time"

	"marcus/internal/logging"
	"marcus/internal/types"
)

// outcomeWindow bounds the per-label rolling history.
const outcomeWindow = 50

// Agent is a registered worker.
type Agent struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	CurrentTask  string    `json:"current_task,omitempty"`

	TotalCompleted int `json:"total_completed"`
	TotalFailed    int `json:"total_failed"`

	// outcomes holds recent success/failure samples per label.
	outcomes map[string][]bool
}

// HasCapabilities reports whether the agent's capability set covers the
// required set.
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// SkillOverlap returns the fraction of required capabilities the agent
// has. With no requirements every agent fits fully.
func (a *Agent) SkillOverlap(required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	n := 0
	for _, r := range required {
		if have[r] {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

// SuccessRatio returns the fraction of successful outcomes over the
// rolling window for the given labels. An agent without history gets the
// neutral prior 0.5.
func (a *Agent) SuccessRatio(labels []string) float64 {
	total, succeeded := 0, 0
	for _, l := range labels {
		for _, ok := range a.outcomes[l] {
			total++
			if ok {
				succeeded++
			}
		}
	}
	if total == 0 {
		// Fall back to the global history when the labels are unseen.
		if a.TotalCompleted+a.TotalFailed == 0 {
			return 0.5
		}
		return float64(a.TotalCompleted) / float64(a.TotalCompleted+a.TotalFailed)
	}
	return float64(succeeded) / float64(total)
}

// Clone returns a copy safe to hand outside the serialization point.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	cp.outcomes = nil // history stays internal
	return &cp
}

// Registry holds agents registered this process lifetime. Single-writer;
// the core serializes access.
type Registry struct {
	agents map[string]*Agent
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent), now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register adds an agent or, when the id is already known, refreshes its
// role and capabilities. Returns true when the agent was already
// registered.
func (r *Registry) Register(id, role string, capabilities []string) bool {
	if a, ok := r.agents[id]; ok {
		a.Role = role
		a.Capabilities = append([]string(nil), capabilities...)
		a.LastSeen = r.now()
		logging.Registry("re-registered agent %s (capabilities=%d)", id, len(capabilities))
		return true
	}
	r.agents[id] = &Agent{
		ID:           id,
		Role:         role,
		Capabilities: append([]string(nil), capabilities...),
		RegisteredAt: r.now(),
		LastSeen:     r.now(),
		outcomes:     make(map[string][]bool),
	}
	logging.Registry("registered agent %s (role=%s, capabilities=%d)", id, role, len(capabilities))
	return false
}

// Get returns the live agent record.
func (r *Registry) Get(id string) (*Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, types.E(types.KindUnknownAgent, "agent %s not registered", id)
	}
	return a, nil
}

// Snapshot returns a copy of the agent.
func (r *Registry) Snapshot(id string) (*Agent, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// List returns all agents in id order, as copies.
func (r *Registry) List() []*Agent {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// Heartbeat refreshes the liveness timestamp.
func (r *Registry) Heartbeat(id string) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	a.LastSeen = r.now()
	return nil
}

// SetAssignment binds the agent to its current task (empty clears).
func (r *Registry) SetAssignment(id, taskID string) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	a.CurrentTask = taskID
	a.LastSeen = r.now()
	return nil
}

// RecordOutcome appends a completion sample for each label, trimming the
// window, and bumps the global counters.
func (r *Registry) RecordOutcome(id string, labels []string, success bool) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	if success {
		a.TotalCompleted++
	} else {
		a.TotalFailed++
	}
	for _, l := range labels {
		hist := append(a.outcomes[l], success)
		if len(hist) > outcomeWindow {
			hist = hist[len(hist)-outcomeWindow:]
		}
		a.outcomes[l] = hist
	}
	return nil
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.agents) }
