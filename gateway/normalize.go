package gateway

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/shopchat/message"
)

// Normalize prepares persisted history for a provider request. Annotation
// blocks are stripped structurally; turns left with no visible content are
// dropped unless they carry tool calls or tool results; and when budget is
// positive, the oldest non-system turns are discarded until the remainder
// fits the token budget.
func Normalize(turns []*message.Turn, budget int) []*message.Turn {
	visible := make([]*message.Turn, 0, len(turns))
	for _, t := range turns {
		nt := stripAnnotations(t)
		if nt == nil {
			continue
		}
		visible = append(visible, nt)
	}
	if budget <= 0 {
		return visible
	}
	return truncate(visible, budget)
}

func stripAnnotations(t *message.Turn) *message.Turn {
	if t == nil {
		return nil
	}
	nt := message.Clone(t)
	if len(nt.Blocks) > 0 {
		blocks := nt.Blocks[:0]
		for _, b := range nt.Blocks {
			if b.Type == message.BlockAnnotation {
				continue
			}
			blocks = append(blocks, b)
		}
		nt.Blocks = blocks
	}
	if nt.Text() == "" && len(nt.ToolCalls) == 0 && !hasToolResult(nt) {
		return nil
	}
	return nt
}

func hasToolResult(t *message.Turn) bool {
	_, ok := t.ToolResult()
	return ok
}

// truncate keeps leading system turns plus the newest suffix that fits the
// budget. A suffix is never allowed to start with a tool-result turn whose
// requesting assistant turn was dropped.
func truncate(turns []*message.Turn, budget int) []*message.Turn {
	var system []*message.Turn
	rest := turns
	for len(rest) > 0 && rest[0].Role == message.RoleSystem {
		system = append(system, rest[0])
		rest = rest[1:]
	}

	used := 0
	for _, t := range system {
		used += countTokens(t.Text())
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := countTokens(rest[i].Text())
		if used+cost > budget && start < len(rest) {
			break
		}
		used += cost
		start = i
	}
	for start < len(rest) && rest[start].Role == message.RoleTool {
		start++
	}

	return append(system, rest[start:]...)
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens measures text with the cl100k_base encoding, falling back to
// a bytes/4 estimate when the encoding data is unavailable (e.g. offline).
func countTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text)/4 + 1
	}
	return len(encoding.Encode(text, nil, nil))
}
