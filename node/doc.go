// Package node runs and talks to a local openpond node process.
//
// # Overview
//
// The package has two halves. The Supervisor owns the node executable as a
// child process: it locates the binary, spawns it with the listen port, agent
// ID and credential, forwards its output to the logger, and reports abnormal
// exits. The Client owns the RPC session to that process: it performs the
// Connect handshake, consumes the inbound event stream, and exposes the unary
// SendMessage and ListAgents operations.
//
// # Protocol descriptor
//
// The wire contract is not compiled in. The Client parses proto/pond.proto at
// runtime (Options.ProtoPath, with a parent-directory search as a best-effort
// fallback) and drives the RPCs through a dynamic stub, so the SDK can follow
// a node whose descriptor ships alongside the binary.
//
// # Lifecycle
//
//	client := node.New(node.Options{Address: "localhost:50051", AgentID: "agent-a"}, logger)
//	client.OnMessage(func(m node.Message) { ... })
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Disconnect()
//
// Connect retries the dial+handshake sequence three times with a one second
// pause and fails with ErrConnectionFailed once attempts are exhausted; any
// partially acquired resources are torn down first. A stream-level failure
// after a successful connect demotes the client to StateDegraded and is
// reported through the error callback; the client never reconnects on its
// own, callers decide by invoking Connect again.
package node
