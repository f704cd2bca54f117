// ABOUTME: Sentinel errors raised by the node supervisor and streaming client.
// ABOUTME: Callers match with errors.Is; wrapped variants carry the underlying cause.

package node

import "errors"

var (
	// ErrExecutableNotFound means every probe for the node binary failed.
	// LocateExecutable still returns the bare default name so a later spawn
	// can fail on its own terms.
	ErrExecutableNotFound = errors.New("node executable not found")

	// ErrSpawnFailed means the node process could not be started.
	ErrSpawnFailed = errors.New("failed to spawn node process")

	// ErrConnectionFailed means the dial+handshake sequence was exhausted.
	ErrConnectionFailed = errors.New("failed to connect to node")

	// ErrNotConnected is the precondition failure for unary calls.
	ErrNotConnected = errors.New("not connected")

	// ErrSendFailed wraps a transport or node-side rejection of SendMessage.
	ErrSendFailed = errors.New("send failed")

	// ErrProcessExited reports a non-zero node exit after a successful start.
	ErrProcessExited = errors.New("node process exited")

	// ErrStreamClosed reports an event stream failure. The session degrades
	// but is not torn down; reconnecting is the caller's decision.
	ErrStreamClosed = errors.New("node event stream failed")
)
