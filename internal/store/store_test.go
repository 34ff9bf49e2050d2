package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends under test share one behavioral suite.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	sqlStore, err := NewSQLStore(filepath.Join(t.TempDir(), "marcus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{"embedded-kv": fileStore, "sql": sqlStore}
}

func TestPutGetDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(TaskKey("t1"))
			assert.True(t, IsNotFound(err))

			require.NoError(t, s.Put(TaskKey("t1"), []byte(`{"id":"t1"}`)))
			got, err := s.Get(TaskKey("t1"))
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"t1"}`, string(got))

			// Overwrite is atomic per key.
			require.NoError(t, s.Put(TaskKey("t1"), []byte(`{"id":"t1","v":2}`)))
			got, _ = s.Get(TaskKey("t1"))
			assert.Contains(t, string(got), `"v":2`)

			require.NoError(t, s.Delete(TaskKey("t1")))
			_, err = s.Get(TaskKey("t1"))
			assert.True(t, IsNotFound(err))

			// Deleting again is a no-op.
			require.NoError(t, s.Delete(TaskKey("t1")))
		})
	}
}

func TestScanPrefix(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(DecisionKey("t1", "d2"), []byte("2")))
			require.NoError(t, s.Put(DecisionKey("t1", "d1"), []byte("1")))
			require.NoError(t, s.Put(DecisionKey("t2", "d3"), []byte("3")))
			require.NoError(t, s.Put(AgentKey("a1"), []byte("x")))

			kvs, err := s.Scan(DecisionPrefix("t1"))
			require.NoError(t, err)
			require.Len(t, kvs, 2)
			assert.Equal(t, DecisionKey("t1", "d1"), kvs[0].Key)
			assert.Equal(t, DecisionKey("t1", "d2"), kvs[1].Key)

			all, err := s.Scan("decisions/")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := s.Scan("artifacts/")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			type rec struct {
				Agent string `json:"agent"`
				Task  string `json:"task"`
			}
			require.NoError(t, PutJSON(s, AssignmentKey("a1"), rec{Agent: "a1", Task: "t1"}))

			var got rec
			require.NoError(t, GetJSON(s, AssignmentKey("a1"), &got))
			assert.Equal(t, "t1", got.Task)

			err := GetJSON(s, AssignmentKey("nobody"), &got)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(AgentKey("a1"), []byte("hello")))
	require.NoError(t, s.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(AgentKey("a1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marcus.db")
	s, err := NewSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(AgentKey("a1"), []byte("hello")))
	require.NoError(t, s.Close())

	s2, err := NewSQLStore(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(AgentKey("a1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}
