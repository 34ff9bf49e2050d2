package task

import (
	"sort"
	"time"

	"marcus/internal/logging"
	"marcus/internal/types"
)

// Graph holds all tasks indexed by id, with secondary indexes by status,
// label, and parent. Decisions and artifacts live alongside their task so
// context assembly is a lookup, not a join.
type Graph struct {
	tasks      map[string]*Task
	byStatus   map[Status]map[string]bool
	byLabel    map[string]map[string]bool
	children   map[string][]string          // parent id -> ordered child ids
	dependents map[string]map[string]bool   // predecessor id -> dependent ids
	decisions  map[string][]Decision
	artifacts  map[string][]Artifact

	now func() time.Time
}

// NewGraph creates an empty task graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		byStatus:   make(map[Status]map[string]bool),
		byLabel:    make(map[string]map[string]bool),
		children:   make(map[string][]string),
		dependents: make(map[string]map[string]bool),
		decisions:  make(map[string][]Decision),
		artifacts:  make(map[string][]Artifact),
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (g *Graph) SetClock(now func() time.Time) { g.now = now }

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Add inserts a task. The id must be unused. Subtask parents must exist
// and must not themselves be subtasks (single-level decomposition).
// Dependency edges may reference tasks not yet imported; diagnostics
// reports those as dangling.
func (g *Graph) Add(t *Task) error {
	if t.ID == "" {
		return types.E(types.KindUnknownTask, "task id must not be empty")
	}
	if _, exists := g.tasks[t.ID]; exists {
		return types.E(types.KindConflict, "task %s already exists", t.ID)
	}
	if t.ParentID != "" {
		parent, ok := g.tasks[t.ParentID]
		if !ok {
			return types.E(types.KindUnknownTask, "parent %s of subtask %s not found", t.ParentID, t.ID)
		}
		if parent.ParentID != "" {
			return types.E(types.KindInvalidTransition,
				"parent %s is itself a subtask; decomposition is single-level", t.ParentID)
		}
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = g.now()
	}
	t.UpdatedAt = g.now()

	g.tasks[t.ID] = t
	g.indexStatus(t.ID, "", t.Status)
	for _, l := range t.Labels {
		if g.byLabel[l] == nil {
			g.byLabel[l] = make(map[string]bool)
		}
		g.byLabel[l][t.ID] = true
	}
	if t.ParentID != "" {
		g.children[t.ParentID] = append(g.children[t.ParentID], t.ID)
		g.sortChildren(t.ParentID)
	}
	for _, d := range t.Dependencies {
		if g.dependents[d.TaskID] == nil {
			g.dependents[d.TaskID] = make(map[string]bool)
		}
		g.dependents[d.TaskID][t.ID] = true
	}
	logging.GraphDebug("added task %s (%s, parent=%q, deps=%d)", t.ID, t.Status, t.ParentID, len(t.Dependencies))
	return nil
}

// Remove deletes a task and its index entries. Edges pointing at the
// removed task stay on their owners and surface as dangling dependencies.
func (g *Graph) Remove(id string) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	delete(g.tasks, id)
	delete(g.byStatus[t.Status], id)
	for _, l := range t.Labels {
		delete(g.byLabel[l], id)
	}
	if t.ParentID != "" {
		kids := g.children[t.ParentID]
		for i, k := range kids {
			if k == id {
				g.children[t.ParentID] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	for _, d := range t.Dependencies {
		delete(g.dependents[d.TaskID], id)
	}
	delete(g.children, id)
	delete(g.decisions, id)
	delete(g.artifacts, id)
	return nil
}

// Get returns the live task record. Callers outside the serialization
// point must use Snapshot instead.
func (g *Graph) Get(id string) (*Task, error) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, types.E(types.KindUnknownTask, "task %s not found", id)
	}
	return t, nil
}

// Snapshot returns a deep copy of the task.
func (g *Graph) Snapshot(id string) (*Task, error) {
	t, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// All returns every task id in deterministic order.
func (g *Graph) All() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByStatus returns the ids of tasks in the given status, sorted.
func (g *Graph) ByStatus(s Status) []string {
	ids := make([]string, 0, len(g.byStatus[s]))
	for id := range g.byStatus[s] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByLabel returns the ids of tasks carrying the label, sorted.
func (g *Graph) ByLabel(label string) []string {
	ids := make([]string, 0, len(g.byLabel[label]))
	for id := range g.byLabel[label] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetStatus transitions a task through the state machine, maintaining
// the status index.
func (g *Graph) SetStatus(id string, to Status) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	if err := checkTransition(id, t.Status, to); err != nil {
		return err
	}
	from := t.Status
	t.Status = to
	t.UpdatedAt = g.now()
	g.indexStatus(id, from, to)
	if from != to {
		logging.GraphDebug("task %s: %s -> %s", id, from, to)
	}
	return nil
}

// SetAssignee records the current assignee (empty clears it).
func (g *Graph) SetAssignee(id, agentID string) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	t.Assignee = agentID
	t.UpdatedAt = g.now()
	return nil
}

// SetProgress records the reported percentage without policy checks;
// monotonicity is the progress handler's concern.
func (g *Graph) SetProgress(id string, pct int) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	t.Progress = pct
	t.UpdatedAt = g.now()
	return nil
}

// AddDependency adds an edge from id to predecessor depID. Both ends must
// exist. Hard edges that would close a cycle are rejected; soft edges may
// form cycles and are informational only.
func (g *Graph) AddDependency(id, depID string, typ DependencyType) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	if _, ok := g.tasks[depID]; !ok {
		return types.E(types.KindUnknownTask, "dependency target %s not found", depID)
	}
	for _, d := range t.Dependencies {
		if d.TaskID == depID {
			return types.E(types.KindConflict, "task %s already depends on %s", id, depID)
		}
	}
	// A cycle forms when the predecessor already waits on the dependent.
	if typ == DepHard && g.HasHardPath(depID, id) {
		return types.E(types.KindCycleWouldForm,
			"edge %s -> %s would close a hard cycle", id, depID)
	}
	t.Dependencies = append(t.Dependencies, Dependency{TaskID: depID, Type: typ})
	t.UpdatedAt = g.now()
	if g.dependents[depID] == nil {
		g.dependents[depID] = make(map[string]bool)
	}
	g.dependents[depID][id] = true
	logging.GraphDebug("added %s dependency %s -> %s", typ, id, depID)
	return nil
}

// HasHardPath reports whether to is reachable from from over hard edges.
// Used for cycle checks: an edge from->X is safe iff X cannot reach from.
func (g *Graph) HasHardPath(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		t, ok := g.tasks[cur]
		if !ok {
			continue
		}
		for _, d := range t.Dependencies {
			if d.Type != DepHard {
				continue
			}
			if d.TaskID == to {
				return true
			}
			stack = append(stack, d.TaskID)
		}
	}
	return false
}

// Ready reports whether the task is TODO with every hard predecessor
// done. A dangling hard edge keeps its owner not-ready until repaired.
func (g *Graph) Ready(id string) bool {
	t, ok := g.tasks[id]
	if !ok || t.Status != StatusTodo {
		return false
	}
	for _, d := range t.Dependencies {
		if d.Type != DepHard {
			continue
		}
		pred, ok := g.tasks[d.TaskID]
		if !ok || pred.Status != StatusDone {
			return false
		}
	}
	return true
}

// ReadyTasks returns all ready tasks in id order. Ordering by assignment
// preference is the dependency engine's job.
func (g *Graph) ReadyTasks() []*Task {
	var out []*Task
	for _, id := range g.ByStatus(StatusTodo) {
		if g.Ready(id) {
			out = append(out, g.tasks[id])
		}
	}
	return out
}

// DependentsOf returns the tasks that declare id as a predecessor, sorted.
func (g *Graph) DependentsOf(id string) []*Task {
	ids := make([]string, 0, len(g.dependents[id]))
	for dep := range g.dependents[id] {
		ids = append(ids, dep)
	}
	sort.Strings(ids)
	out := make([]*Task, 0, len(ids))
	for _, d := range ids {
		if t, ok := g.tasks[d]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ChildrenOf returns the subtasks of a parent in order-index order.
func (g *Graph) ChildrenOf(id string) []*Task {
	out := make([]*Task, 0, len(g.children[id]))
	for _, c := range g.children[id] {
		if t, ok := g.tasks[c]; ok {
			out = append(out, t)
		}
	}
	return out
}

// AddNote appends a free-text note (recovery notes, audit lines).
func (g *Graph) AddNote(id, note string) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	t.Notes = append(t.Notes, note)
	t.UpdatedAt = g.now()
	return nil
}

// AddBlocker appends an open blocker to the task.
func (g *Graph) AddBlocker(id string, b Blocker) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	t.Blockers = append(t.Blockers, b)
	t.UpdatedAt = g.now()
	return nil
}

// ResolveBlockers marks every open blocker resolved.
func (g *Graph) ResolveBlockers(id string) error {
	t, ok := g.tasks[id]
	if !ok {
		return types.E(types.KindUnknownTask, "task %s not found", id)
	}
	for i := range t.Blockers {
		t.Blockers[i].Resolved = true
	}
	t.UpdatedAt = g.now()
	return nil
}

// AddDecision appends a decision record. Decisions are immutable once
// logged.
func (g *Graph) AddDecision(d Decision) error {
	if _, ok := g.tasks[d.TaskID]; !ok {
		return types.E(types.KindUnknownTask, "task %s not found", d.TaskID)
	}
	g.decisions[d.TaskID] = append(g.decisions[d.TaskID], d)
	return nil
}

// DecisionsFor returns the decisions logged against a task, oldest first.
func (g *Graph) DecisionsFor(id string) []Decision {
	return append([]Decision(nil), g.decisions[id]...)
}

// AddArtifact appends artifact metadata. Repeated logs of the same
// filename yield distinct records; dedup-by-explicit-location is the
// progress handler's call, made through UpsertArtifactAt.
func (g *Graph) AddArtifact(a Artifact) error {
	if _, ok := g.tasks[a.TaskID]; !ok {
		return types.E(types.KindUnknownTask, "task %s not found", a.TaskID)
	}
	g.artifacts[a.TaskID] = append(g.artifacts[a.TaskID], a)
	return nil
}

// UpsertArtifactAt replaces the metadata of an existing artifact at the
// same explicit location, or appends when none exists. Content at the
// location is never touched.
func (g *Graph) UpsertArtifactAt(a Artifact) error {
	if _, ok := g.tasks[a.TaskID]; !ok {
		return types.E(types.KindUnknownTask, "task %s not found", a.TaskID)
	}
	existing := g.artifacts[a.TaskID]
	for i := range existing {
		if existing[i].Location == a.Location {
			a.ID = existing[i].ID
			existing[i] = a
			return nil
		}
	}
	g.artifacts[a.TaskID] = append(existing, a)
	return nil
}

// ArtifactsFor returns artifact metadata for a task, oldest first.
func (g *Graph) ArtifactsFor(id string) []Artifact {
	return append([]Artifact(nil), g.artifacts[id]...)
}

func (g *Graph) indexStatus(id string, from, to Status) {
	if from != "" {
		delete(g.byStatus[from], id)
	}
	if g.byStatus[to] == nil {
		g.byStatus[to] = make(map[string]bool)
	}
	g.byStatus[to][id] = true
}

func (g *Graph) sortChildren(parent string) {
	kids := g.children[parent]
	sort.SliceStable(kids, func(i, j int) bool {
		a, b := g.tasks[kids[i]], g.tasks[kids[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
}
