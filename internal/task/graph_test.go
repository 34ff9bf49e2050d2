package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcus/internal/types"
)

func newTask(id string, deps ...Dependency) *Task {
	return &Task{ID: id, Name: id, Dependencies: deps}
}

func hard(id string) Dependency { return Dependency{TaskID: id, Type: DepHard} }
func soft(id string) Dependency { return Dependency{TaskID: id, Type: DepSoft} }

func TestAddAndIndexes(t *testing.T) {
	g := NewGraph()
	a := newTask("a")
	a.Labels = []string{"backend"}
	require.NoError(t, g.Add(a))
	require.NoError(t, g.Add(newTask("b", hard("a"))))

	assert.Equal(t, []string{"a", "b"}, g.All())
	assert.Equal(t, []string{"a", "b"}, g.ByStatus(StatusTodo))
	assert.Equal(t, []string{"a"}, g.ByLabel("backend"))

	deps := g.DependentsOf("a")
	require.Len(t, deps, 1)
	assert.Equal(t, "b", deps[0].ID)
}

func TestAddDuplicateAndUnknown(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("a")))
	err := g.Add(newTask("a"))
	assert.True(t, types.IsKind(err, types.KindConflict))

	_, err = g.Get("ghost")
	assert.True(t, types.IsKind(err, types.KindUnknownTask))
}

func TestSubtaskInvariants(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("parent")))

	sub := newTask("child")
	sub.ParentID = "parent"
	sub.Order = 1
	require.NoError(t, g.Add(sub))

	// A subtask cannot itself be a parent.
	grand := newTask("grandchild")
	grand.ParentID = "child"
	err := g.Add(grand)
	require.Error(t, err)

	// Parent must exist.
	orphan := newTask("orphan")
	orphan.ParentID = "nobody"
	err = g.Add(orphan)
	assert.True(t, types.IsKind(err, types.KindUnknownTask))
}

func TestChildrenOrdered(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("p")))
	for _, c := range []struct {
		id    string
		order int
	}{{"c3", 3}, {"c1", 1}, {"c2", 2}} {
		sub := newTask(c.id)
		sub.ParentID = "p"
		sub.Order = c.order
		require.NoError(t, g.Add(sub))
	}

	kids := g.ChildrenOf("p")
	require.Len(t, kids, 3)
	assert.Equal(t, "c1", kids[0].ID)
	assert.Equal(t, "c2", kids[1].ID)
	assert.Equal(t, "c3", kids[2].ID)
}

func TestStateMachine(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("t")))

	// todo -> done is not a legal move.
	err := g.SetStatus("t", StatusDone)
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))

	require.NoError(t, g.SetStatus("t", StatusInProgress))
	require.NoError(t, g.SetStatus("t", StatusBlocked))
	require.NoError(t, g.SetStatus("t", StatusInProgress))
	require.NoError(t, g.SetStatus("t", StatusDone))

	// Terminal states refuse everything.
	err = g.SetStatus("t", StatusInProgress)
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))

	got, _ := g.Get("t")
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, []string{"t"}, g.ByStatus(StatusDone))
	assert.Empty(t, g.ByStatus(StatusTodo))
}

func TestOrphanRecoveryTransition(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("t")))
	require.NoError(t, g.SetStatus("t", StatusInProgress))
	require.NoError(t, g.SetStatus("t", StatusTodo))
	assert.Equal(t, []string{"t"}, g.ByStatus(StatusTodo))
}

func TestReadiness(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("a")))
	require.NoError(t, g.Add(newTask("b", hard("a"))))
	require.NoError(t, g.Add(newTask("c", soft("b"))))

	// b waits on hard predecessor a; c's soft edge never gates.
	assert.True(t, g.Ready("a"))
	assert.False(t, g.Ready("b"))
	assert.True(t, g.Ready("c"))

	require.NoError(t, g.SetStatus("a", StatusInProgress))
	require.NoError(t, g.SetStatus("a", StatusDone))
	assert.True(t, g.Ready("b"))

	ready := g.ReadyTasks()
	require.Len(t, ready, 2)
	assert.Equal(t, "b", ready[0].ID)
	assert.Equal(t, "c", ready[1].ID)
}

func TestDanglingHardDepBlocksReadiness(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("b", hard("missing"))))
	assert.False(t, g.Ready("b"))
}

func TestCycleRejection(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("a")))
	require.NoError(t, g.Add(newTask("b", hard("a"))))
	require.NoError(t, g.Add(newTask("c", hard("b"))))

	// a -> c would close a (c -> b -> a) hard cycle. Note edge direction:
	// AddDependency(a, c) means a waits on c.
	err := g.AddDependency("a", "c", DepHard)
	assert.True(t, types.IsKind(err, types.KindCycleWouldForm))

	// Graph unchanged.
	a, _ := g.Get("a")
	assert.Empty(t, a.Dependencies)

	// The same edge as soft is informational and allowed.
	require.NoError(t, g.AddDependency("a", "c", DepSoft))
}

func TestSelfDependencyRejected(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("a")))
	err := g.AddDependency("a", "a", DepHard)
	assert.True(t, types.IsKind(err, types.KindCycleWouldForm))
}

func TestDecisionsAndArtifacts(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(newTask("t")))

	require.NoError(t, g.AddDecision(Decision{ID: "d1", TaskID: "t", Text: "use postgres"}))
	require.NoError(t, g.AddDecision(Decision{ID: "d2", TaskID: "t", Text: "jwt for auth"}))
	ds := g.DecisionsFor("t")
	require.Len(t, ds, 2)
	assert.Equal(t, "use postgres", ds[0].Text)

	// Same filename twice yields two records.
	a1 := Artifact{ID: "a1", TaskID: "t", Filename: "api.yaml", Type: ArtifactAPI, Location: "docs/api/api.yaml"}
	require.NoError(t, g.AddArtifact(a1))
	require.NoError(t, g.AddArtifact(Artifact{ID: "a2", TaskID: "t", Filename: "api.yaml", Type: ArtifactAPI, Location: "docs/api/api.yaml"}))
	assert.Len(t, g.ArtifactsFor("t"), 2)

	// Explicit-location upsert replaces metadata, keeps the record count.
	require.NoError(t, g.UpsertArtifactAt(Artifact{ID: "a3", TaskID: "t", Filename: "api-v2.yaml", Type: ArtifactAPI, Location: "docs/api/api.yaml"}))
	arts := g.ArtifactsFor("t")
	assert.Len(t, arts, 2)
	assert.Equal(t, "api-v2.yaml", arts[0].Filename)
	assert.Equal(t, "a1", arts[0].ID)
}

func TestRemoveCleansIndexes(t *testing.T) {
	g := NewGraph()
	a := newTask("a")
	a.Labels = []string{"x"}
	require.NoError(t, g.Add(a))
	require.NoError(t, g.Add(newTask("b", hard("a"))))

	require.NoError(t, g.Remove("a"))
	assert.Empty(t, g.ByLabel("x"))
	assert.Equal(t, []string{"b"}, g.ByStatus(StatusTodo))
	_, err := g.Get("a")
	assert.Error(t, err)
	// b's edge now dangles; readiness is withheld.
	assert.False(t, g.Ready("b"))
}

func TestSnapshotIsolation(t *testing.T) {
	g := NewGraph()
	tk := newTask("t")
	tk.Labels = []string{"one"}
	require.NoError(t, g.Add(tk))

	snap, err := g.Snapshot("t")
	require.NoError(t, err)
	snap.Labels[0] = "mutated"
	snap.Status = StatusDone

	live, _ := g.Get("t")
	assert.Equal(t, "one", live.Labels[0])
	assert.Equal(t, StatusTodo, live.Status)
}

func TestClockAndTimestamps(t *testing.T) {
	g := NewGraph()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return fixed })

	require.NoError(t, g.Add(newTask("t")))
	got, _ := g.Get("t")
	assert.Equal(t, fixed, got.CreatedAt)
	assert.Equal(t, fixed, got.UpdatedAt)
}

func TestCanonicalDirs(t *testing.T) {
	assert.Equal(t, "docs/specifications/", ArtifactSpecification.CanonicalDir())
	assert.Equal(t, "docs/design/", ArtifactDesign.CanonicalDir())
	assert.Equal(t, "docs/api/", ArtifactAPI.CanonicalDir())
	assert.Equal(t, "docs/architecture/", ArtifactArchitecture.CanonicalDir())
	assert.Equal(t, "docs/", ArtifactDocumentation.CanonicalDir())
	assert.Equal(t, "docs/", ArtifactOther.CanonicalDir())
}
