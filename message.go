// ABOUTME: Transport-neutral message DTO delivered by the coordinator's handler.
// ABOUTME: Both transports map their wire shapes into this at the delivery boundary.

package openpond

// Message is one inbound message as delivered to the registered handler.
// Node-mode messages leave To, ConversationID, and ReplyTo empty; those
// fields only exist on the hosted-API wire.
type Message struct {
	ID             string
	From           string
	To             string
	Content        string
	Timestamp      int64 // milliseconds
	ConversationID string
	ReplyTo        string
}

// MessageHandler receives inbound messages. Single slot, last wins.
type MessageHandler func(Message)

// ErrorHandler receives background failures. Without one, loop and stream
// failures are only logged; unary call failures still return errors.
type ErrorHandler func(error)
