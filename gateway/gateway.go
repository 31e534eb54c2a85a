// Package gateway normalizes conversation history into a model provider's
// wire format and streams the provider's response back as one canonical
// event sequence. Provider differences (function-call deltas vs. block-based
// tool use) stay inside the adapters; callers only ever see Handlers.
package gateway

import (
	"context"

	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/tool"
)

// Handlers receives the canonical event sequence of one StreamTurn call.
// Callbacks fire in provider-stream arrival order.
type Handlers struct {
	// OnTextDelta receives each incremental text fragment as it arrives.
	OnTextDelta func(text string) error

	// OnToolCall fires once per requested tool call, only after the
	// accumulated argument payload parses as a complete structured value.
	// Malformed trailing fragments are discarded, never surfaced.
	OnToolCall func(call message.ToolCall) error

	// OnComplete fires exactly once per StreamTurn call with the full
	// assistant turn. When the provider stream fails or ends without an
	// explicit completion signal, the turn is synthesized from whatever
	// text was accumulated before StreamTurn returns its error.
	OnComplete func(turn *message.Turn) error
}

// Gateway streams one model response for the given history and tool set.
type Gateway interface {
	StreamTurn(ctx context.Context, turns []*message.Turn, tools []*tool.Descriptor, h Handlers) error
}

// Config holds provider adapter configuration shared by all adapters.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64

	// HistoryTokenBudget bounds the normalized history sent to the
	// provider; zero disables truncation.
	HistoryTokenBudget int
}
