package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCategorizedOutput(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Assign("assigned %s to %s", "t-1", "agent-1")
	LeaseDebug("renewed lease for %s", "t-1")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "assign", entries[0].LoggerName)
	assert.Equal(t, `assigned t-1 to agent-1`, entries[0].Message)
	assert.Equal(t, "lease", entries[1].LoggerName)
}

func TestGetCachesPerCategory(t *testing.T) {
	SetLogger(zap.NewNop())
	a := Get(CategoryGraph)
	b := Get(CategoryGraph)
	assert.Same(t, a, b)
}

func TestSilentBeforeInitialize(t *testing.T) {
	SetLogger(zap.NewNop())
	// Must not panic with the nop root.
	Boot("starting")
	Worker("sweeping")
}
