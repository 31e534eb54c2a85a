package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the turn author within a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType discriminates the typed content blocks a turn may carry.
type BlockType string

const (
	// BlockText is visible assistant or user text.
	BlockText BlockType = "text"
	// BlockToolResult carries the outcome of a tool invocation.
	BlockToolResult BlockType = "tool_result"
	// BlockAnnotation is internal-only content. It is persisted with the
	// turn but must never be rendered or sent to a model provider as
	// visible text.
	BlockAnnotation BlockType = "annotation"
)

// Block is one typed content unit inside a turn.
type Block struct {
	Type       BlockType `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
}

// ToolCall represents a tool invocation requested by the assistant.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Turn is one role-tagged message unit within a conversation's ordered log.
// Content holds plain text; Blocks holds typed content. When Blocks is
// non-empty it is the canonical form and Content is ignored.
type Turn struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	Blocks    []Block    `json:"blocks,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewTurn creates a plain-text turn with the given role.
func NewTurn(role Role, content string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolCallTurn creates an assistant turn that requests tool invocations.
// The accompanying text, if any, is what the model emitted before calling.
func NewToolCallTurn(text string, calls []ToolCall) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
}

// NewToolResultTurn creates a tool turn carrying one invocation outcome.
func NewToolResultTurn(callID, content string, isError bool) *Turn {
	return &Turn{
		ID:   uuid.NewString(),
		Role: RoleTool,
		Blocks: []Block{{
			Type:       BlockToolResult,
			Text:       content,
			ToolCallID: callID,
			IsError:    isError,
		}},
		CreatedAt: time.Now(),
	}
}

// Text returns the visible text of the turn. Annotation blocks are skipped.
func (t *Turn) Text() string {
	if len(t.Blocks) == 0 {
		return t.Content
	}
	var parts []string
	for _, b := range t.Blocks {
		if b.Type == BlockAnnotation {
			continue
		}
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// AddAnnotation attaches internal-only content to the turn. Plain-text turns
// are promoted to block form so the annotation stays structurally tagged.
func (t *Turn) AddAnnotation(text string) {
	if len(t.Blocks) == 0 && t.Content != "" {
		t.Blocks = []Block{{Type: BlockText, Text: t.Content}}
		t.Content = ""
	}
	t.Blocks = append(t.Blocks, Block{Type: BlockAnnotation, Text: text})
}

// ToolResult returns the first tool-result block, if any.
func (t *Turn) ToolResult() (Block, bool) {
	for _, b := range t.Blocks {
		if b.Type == BlockToolResult {
			return b, true
		}
	}
	return Block{}, false
}

// EqualContent reports whether two turns carry identical (role, content).
// Identity and timestamps are ignored; the comparison covers the canonical
// content shape only.
func EqualContent(a, b *Turn) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Role != b.Role || a.Content != b.Content {
		return false
	}
	if len(a.Blocks) != len(b.Blocks) || len(a.ToolCalls) != len(b.ToolCalls) {
		return false
	}
	for i := range a.Blocks {
		if a.Blocks[i] != b.Blocks[i] {
			return false
		}
	}
	for i := range a.ToolCalls {
		if a.ToolCalls[i].Name != b.ToolCalls[i].Name {
			return false
		}
	}
	return true
}

// Collapse removes consecutive turns with identical (role, content), keeping
// the first occurrence. Defends against retried writes landing duplicate
// adjacent entries in the persisted log.
func Collapse(turns []*Turn) []*Turn {
	if len(turns) < 2 {
		return turns
	}
	out := turns[:1]
	for _, t := range turns[1:] {
		if EqualContent(out[len(out)-1], t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Clone creates a deep copy of the turn.
func Clone(t *Turn) *Turn {
	if t == nil {
		return nil
	}
	cloned := *t
	if len(t.Blocks) > 0 {
		cloned.Blocks = append([]Block(nil), t.Blocks...)
	}
	if len(t.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			cloned.ToolCalls[i] = cloneToolCall(tc)
		}
	}
	return &cloned
}

// CloneTurns copies a slice of turns.
func CloneTurns(turns []*Turn) []*Turn {
	if len(turns) == 0 {
		return nil
	}
	clones := make([]*Turn, 0, len(turns))
	for _, t := range turns {
		clones = append(clones, Clone(t))
	}
	return clones
}

func cloneToolCall(call ToolCall) ToolCall {
	cloned := ToolCall{
		ID:   call.ID,
		Name: call.Name,
	}
	if call.Args != nil {
		cloned.Args = make(map[string]any, len(call.Args))
		for k, v := range call.Args {
			cloned.Args[k] = v
		}
	}
	return cloned
}
