// ABOUTME: Tests for the connection state machine transitions and preconditions.
// ABOUTME: Verifies illegal connects are rejected and unary preconditions fail closed.

package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnState_InitialDisconnected(t *testing.T) {
	cs := newConnState()
	assert.Equal(t, StateDisconnected, cs.current())
	assert.ErrorIs(t, cs.requireConnected(), ErrNotConnected)
}

func TestConnState_BeginStarting(t *testing.T) {
	cs := newConnState()
	require.NoError(t, cs.beginStarting())
	assert.Equal(t, StateStarting, cs.current())

	// A second connect while one is in flight is rejected.
	assert.Error(t, cs.beginStarting())
}

func TestConnState_BeginStartingWhileConnected(t *testing.T) {
	cs := newConnState()
	require.NoError(t, cs.beginStarting())
	cs.set(StateConnected)

	assert.Error(t, cs.beginStarting())
}

func TestConnState_ReconnectFromDegraded(t *testing.T) {
	cs := newConnState()
	cs.set(StateDegraded)
	assert.NoError(t, cs.beginStarting())
}

func TestConnState_ReconnectAfterClose(t *testing.T) {
	cs := newConnState()
	cs.set(StateClosed)
	assert.ErrorIs(t, cs.requireConnected(), ErrNotConnected)
	assert.NoError(t, cs.beginStarting())
}

func TestConnState_RequireConnected(t *testing.T) {
	cs := newConnState()
	cs.set(StateConnected)
	assert.NoError(t, cs.requireConnected())

	cs.set(StateDegraded)
	assert.ErrorIs(t, cs.requireConnected(), ErrNotConnected)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
}
