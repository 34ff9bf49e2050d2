package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindOf(t *testing.T) {
	err := E(KindUnknownTask, "no task %q", "t-9")
	assert.Equal(t, KindUnknownTask, KindOf(err))
	assert.Equal(t, "UnknownTask: no task \"t-9\"", err.Error())

	// Kind survives wrapping.
	wrapped := fmt.Errorf("handling request: %w", err)
	assert.Equal(t, KindUnknownTask, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindUnknownTask))
}

func TestErrorRetryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindProviderUnavailable, true},
		{KindTimeout, true},
		{KindConflict, true},
		{KindUnknownTask, false},
		{KindInvalidArgument, false},
		{KindInvalidTransition, false},
		{KindPersistenceFailure, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Retryable(E(tc.kind, "x")), string(tc.kind))
	}
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindPersistenceFailure, KindOf(fmt.Errorf("disk on fire")))
	assert.False(t, Retryable(fmt.Errorf("disk on fire")))
}

func TestRoles(t *testing.T) {
	assert.True(t, RoleAgent.CanWrite())
	assert.True(t, RoleAdmin.CanWrite())
	assert.False(t, RoleObserver.CanWrite())
	assert.False(t, RoleDeveloper.CanWrite())

	assert.True(t, RoleObserver.CanRead())
	assert.True(t, RoleDeveloper.CanRead())
	assert.False(t, Role("intruder").CanRead())
}
