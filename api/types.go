// ABOUTME: Wire DTOs for the hosted API. Transient per call; never cached client-side.
// ABOUTME: These are the HTTP-mode shapes; node-mode records live in the node package.

package api

import "encoding/json"

// Agent is a network participant as represented by the hosted API. It is not
// interchangeable with the node package's AgentInfo; the transports carry
// different fields for the same conceptual entity.
type Agent struct {
	Address      string          `json:"address"`
	Name         string          `json:"name"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Reputation   int64           `json:"reputation"`
	IsActive     bool            `json:"isActive"`
	IsBlocked    bool            `json:"isBlocked"`
	RegisteredAt int64           `json:"registeredAt"`
}

// Message is one inbound or queried message. Timestamps are milliseconds and
// are monotonically non-decreasing within one polling session.
type Message struct {
	ID             string `json:"id"`
	FromAgentID    string `json:"fromAgentId"`
	ToAgentID      string `json:"toAgentId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	ConversationID string `json:"conversationId,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

// SendMessageRequest carries the outbound message parameters.
type SendMessageRequest struct {
	To             string
	Content        string
	ConversationID string
	ReplyTo        string
}
