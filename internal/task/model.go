// Package task implements the in-memory task model: tasks, subtasks,
// dependencies, decisions, artifacts, and the graph that indexes them.
//
// The graph is a single-writer structure. It performs no locking of its
// own; all mutation is funneled through the core's serialization point.
package task

import (
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Priority orders tasks for assignment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight maps priority to a comparable rank. Unknown values rank lowest.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// DependencyType distinguishes blocking edges from mockable ones.
type DependencyType string

const (
	// DepHard blocks assignment until the predecessor is done.
	DepHard DependencyType = "hard"
	// DepSoft never gates readiness; the predecessor's contract may be
	// mocked by the dependent.
	DepSoft DependencyType = "soft"
)

// Dependency is an edge from a task to a predecessor it waits on.
type Dependency struct {
	TaskID string         `json:"task_id"`
	Type   DependencyType `json:"type"`
}

// BlockerSeverity grades a reported blocker.
type BlockerSeverity string

const (
	BlockerLow    BlockerSeverity = "low"
	BlockerMedium BlockerSeverity = "medium"
	BlockerHigh   BlockerSeverity = "high"
)

// Blocker is an agent-reported impediment attached to a task.
type Blocker struct {
	Description string          `json:"description"`
	Severity    BlockerSeverity `json:"severity"`
	ReportedBy  string          `json:"reported_by"`
	ReportedAt  time.Time       `json:"reported_at"`
	Resolved    bool            `json:"resolved"`
}

// Task is the primary unit of work.
type Task struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Labels       []string `json:"labels,omitempty"`
	Priority     Priority `json:"priority"`
	EstimatedHrs float64  `json:"estimated_hours"`
	Status       Status   `json:"status"`
	Assignee     string   `json:"assignee,omitempty"`
	Progress     int      `json:"progress"` // 0-100, monotonic while in progress

	RequiredCapabilities []string     `json:"required_capabilities,omitempty"`
	Dependencies         []Dependency `json:"dependencies,omitempty"`

	// Subtask fields. A task with ParentID set is a subtask; decomposition
	// is single-level, so a parent is never itself a subtask.
	ParentID string `json:"parent_id,omitempty"`
	Order    int    `json:"order,omitempty"`
	Provides string `json:"provides,omitempty"` // interface contract, free text
	Requires string `json:"requires,omitempty"`

	// Conventions shared with children (base path, naming, formats).
	// Meaningful on parents only.
	Conventions map[string]string `json:"conventions,omitempty"`

	Blockers []Blocker `json:"blockers,omitempty"`
	Notes    []string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HardDeps returns the ids of hard predecessors.
func (t *Task) HardDeps() []string {
	var out []string
	for _, d := range t.Dependencies {
		if d.Type == DepHard {
			out = append(out, d.TaskID)
		}
	}
	return out
}

// SoftDeps returns the ids of soft predecessors.
func (t *Task) SoftDeps() []string {
	var out []string
	for _, d := range t.Dependencies {
		if d.Type == DepSoft {
			out = append(out, d.TaskID)
		}
	}
	return out
}

// OpenBlockers counts unresolved blockers.
func (t *Task) OpenBlockers() int {
	n := 0
	for _, b := range t.Blockers {
		if !b.Resolved {
			n++
		}
	}
	return n
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the serialization point.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	cp.Dependencies = append([]Dependency(nil), t.Dependencies...)
	cp.Blockers = append([]Blocker(nil), t.Blockers...)
	cp.Notes = append([]string(nil), t.Notes...)
	if t.Conventions != nil {
		cp.Conventions = make(map[string]string, len(t.Conventions))
		for k, v := range t.Conventions {
			cp.Conventions[k] = v
		}
	}
	return &cp
}

// Decision is an append-only record of a choice made while executing a
// task, surfaced later to dependents.
type Decision struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// ArtifactType classifies produced files for canonical placement.
type ArtifactType string

const (
	ArtifactSpecification ArtifactType = "specification"
	ArtifactDesign        ArtifactType = "design"
	ArtifactAPI           ArtifactType = "api"
	ArtifactDocumentation ArtifactType = "documentation"
	ArtifactArchitecture  ArtifactType = "architecture"
	ArtifactOther         ArtifactType = "other"
)

// CanonicalDir returns the default directory for the artifact type.
func (at ArtifactType) CanonicalDir() string {
	switch at {
	case ArtifactSpecification:
		return "docs/specifications/"
	case ArtifactDesign:
		return "docs/design/"
	case ArtifactAPI:
		return "docs/api/"
	case ArtifactArchitecture:
		return "docs/architecture/"
	case ArtifactDocumentation, ArtifactOther:
		return "docs/"
	}
	return "docs/"
}

// Valid reports whether the type is one of the closed set.
func (at ArtifactType) Valid() bool {
	switch at {
	case ArtifactSpecification, ArtifactDesign, ArtifactAPI,
		ArtifactDocumentation, ArtifactArchitecture, ArtifactOther:
		return true
	}
	return false
}

// Artifact is metadata for a named, typed file produced by an agent.
// Content lives at Location; the core never stores it.
type Artifact struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	AgentID   string       `json:"agent_id,omitempty"`
	Filename  string       `json:"filename"`
	Type      ArtifactType `json:"type"`
	Location  string       `json:"location"`
	CreatedAt time.Time    `json:"created_at"`
}
