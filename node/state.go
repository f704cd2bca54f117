// ABOUTME: Explicit connection state machine owned by one Client instance.
// ABOUTME: All transitions go through methods so illegal states stay unrepresentable.

package node

import (
	"errors"
	"sync"
)

// State is the connection lifecycle value of a streaming client.
type State int

const (
	StateDisconnected State = iota
	StateStarting
	StateConnected
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connState guards the lifecycle value. Exactly one instance per Client.
type connState struct {
	mu  sync.RWMutex
	cur State
}

func newConnState() *connState {
	return &connState{cur: StateDisconnected}
}

func (cs *connState) current() State {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.cur
}

func (cs *connState) set(to State) {
	cs.mu.Lock()
	cs.cur = to
	cs.mu.Unlock()
}

// beginStarting moves to StateStarting. Allowed from any resting state;
// rejected while a connect is in flight or a session is live.
func (cs *connState) beginStarting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch cs.cur {
	case StateStarting:
		return errors.New("connect already in progress")
	case StateConnected:
		return errors.New("already connected")
	}
	cs.cur = StateStarting
	return nil
}

// requireConnected is the unary-call precondition.
func (cs *connState) requireConnected() error {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.cur != StateConnected {
		return ErrNotConnected
	}
	return nil
}
