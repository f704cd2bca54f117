// ABOUTME: Tagged union for inbound node stream events plus the wire decoder.
// ABOUTME: Events are decoded once at the transport boundary; downstream code switches on variants.

package node

import (
	"fmt"

	"github.com/jhump/protoreflect/dynamic"
)

// Event is one decoded inbound stream event. The concrete type identifies
// the variant; no raw optional-field inspection happens past this boundary.
type Event interface {
	event()
}

// ReadyEvent signals the node has joined the network and can relay traffic.
type ReadyEvent struct {
	PeerID string
}

// PeerConnectedEvent signals another peer reached the node.
type PeerConnectedEvent struct {
	PeerID string
}

// MessageEvent carries an inbound agent message.
type MessageEvent struct {
	Message Message
}

// ErrorEvent carries a node-reported stream error. The session degrades.
type ErrorEvent struct {
	Reason string
}

func (ReadyEvent) event()         {}
func (PeerConnectedEvent) event() {}
func (MessageEvent) event()       {}
func (ErrorEvent) event()         {}

// Message is an inbound message as delivered by the node.
type Message struct {
	ID        string
	From      string
	Content   string // wire payload is bytes; decoded to text here
	Timestamp int64  // milliseconds
}

// AgentInfo is one roster entry reported by the node.
type AgentInfo struct {
	ID          string
	Name        string
	PeerID      string
	ConnectedAt int64
}

// decodeEvent maps a wire NodeEvent onto the Event union by which oneof
// variant is populated.
func decodeEvent(dm *dynamic.Message) (Event, error) {
	switch {
	case dm.HasFieldName("ready"):
		inner := messageField(dm, "ready")
		return ReadyEvent{PeerID: stringField(inner, "peer_id")}, nil

	case dm.HasFieldName("peer_connected"):
		inner := messageField(dm, "peer_connected")
		return PeerConnectedEvent{PeerID: stringField(inner, "peer_id")}, nil

	case dm.HasFieldName("message"):
		inner := messageField(dm, "message")
		return MessageEvent{Message: Message{
			ID:        stringField(inner, "id"),
			From:      stringField(inner, "from"),
			Content:   string(bytesField(inner, "content")),
			Timestamp: int64Field(inner, "timestamp"),
		}}, nil

	case dm.HasFieldName("error"):
		inner := messageField(dm, "error")
		return ErrorEvent{Reason: stringField(inner, "message")}, nil
	}

	return nil, fmt.Errorf("node event carries no recognized variant")
}

func messageField(dm *dynamic.Message, name string) *dynamic.Message {
	if dm == nil {
		return nil
	}
	inner, _ := dm.GetFieldByName(name).(*dynamic.Message)
	return inner
}

func stringField(dm *dynamic.Message, name string) string {
	if dm == nil {
		return ""
	}
	s, _ := dm.GetFieldByName(name).(string)
	return s
}

func bytesField(dm *dynamic.Message, name string) []byte {
	if dm == nil {
		return nil
	}
	b, _ := dm.GetFieldByName(name).([]byte)
	return b
}

func int64Field(dm *dynamic.Message, name string) int64 {
	if dm == nil {
		return 0
	}
	n, _ := dm.GetFieldByName(name).(int64)
	return n
}
