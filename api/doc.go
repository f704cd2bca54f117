// Package api is the HTTP fallback transport against the hosted OpenPond API.
//
// The hosted service manages the P2P network itself; this client registers
// the agent, sends messages, and receives inbound traffic either by polling
// GET /messages with a high-watermark timestamp cursor or by subscribing to
// the SSE push feed and filtering events addressed to this agent.
//
// Every public method both invokes the registered error callback and returns
// the error. Callers relying solely on the callback miss nothing, but must
// still handle returned errors. Background loop failures (a poll cycle, the
// push stream) are reported through the callback only; polling self-heals on
// the next tick and the push subscription resubscribes with a fixed backoff.
package api
