// Package event defines the canonical event vocabulary emitted during a
// conversation turn. Every component that produces or relays progress speaks
// this one discriminated shape; providers and transports never leak their
// own formats past their adapters.
package event

import "github.com/sweetpotato0/shopchat/tool"

// Type discriminates events.
type Type string

const (
	// TypeID carries the conversation identifier; always sent first.
	TypeID Type = "id"
	// TypeChunk is incremental assistant text.
	TypeChunk Type = "chunk"
	// TypeToolUse signals that a tool call was requested.
	TypeToolUse Type = "tool_use"
	// TypeProducts is the side-channel display payload.
	TypeProducts Type = "products"
	// TypeMessageComplete marks one fully emitted assistant turn.
	TypeMessageComplete Type = "message_complete"
	// TypeEndTurn marks the end of the whole session turn.
	TypeEndTurn Type = "end_turn"
	// TypeError is a terminal failure; nothing follows it.
	TypeError Type = "error"
)

// Event is one canonical event.
type Event struct {
	Type           Type           `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Chunk          string         `json:"chunk,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	Products       []tool.Product `json:"products,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Sink receives events in emission order. Implementations must not reorder,
// buffer out of order, or drop events.
type Sink func(Event) error

// ID builds the initial identifier event.
func ID(conversationID string) Event {
	return Event{Type: TypeID, ConversationID: conversationID}
}

// Chunk builds an incremental text event.
func Chunk(text string) Event {
	return Event{Type: TypeChunk, Chunk: text}
}

// ToolUse builds a tool-call-requested event.
func ToolUse(name string, input map[string]any) Event {
	return Event{Type: TypeToolUse, ToolName: name, ToolInput: input}
}

// Products builds a side-channel display event.
func Products(products []tool.Product) Event {
	return Event{Type: TypeProducts, Products: products}
}

// MessageComplete builds the assistant-turn-complete event.
func MessageComplete() Event {
	return Event{Type: TypeMessageComplete}
}

// EndTurn builds the session-turn-done event.
func EndTurn() Event {
	return Event{Type: TypeEndTurn}
}

// Error builds a terminal error event.
func Error(message string) Event {
	return Event{Type: TypeError, Error: message}
}
