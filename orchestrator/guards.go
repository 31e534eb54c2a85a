package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sweetpotato0/shopchat/message"
)

// guardState tracks anti-runaway counters for one RunTurn invocation. It is
// loop-local state, never shared across conversations or turns.
type guardState struct {
	maxPerTool int
	maxTotal   int
	perTool    map[string]int
	total      int
	seen       map[string]struct{}
}

func newGuardState(maxPerTool, maxTotal int) *guardState {
	return &guardState{
		maxPerTool: maxPerTool,
		maxTotal:   maxTotal,
		perTool:    make(map[string]int),
		seen:       make(map[string]struct{}),
	}
}

// fingerprint computes the canonical signature of a tool call: its name plus
// the canonicalized input payload. Map keys are sorted during JSON encoding,
// so semantically identical inputs always collide.
func fingerprint(call message.ToolCall) string {
	args, err := json.Marshal(call.Args)
	if err != nil {
		args = []byte(fmt.Sprintf("%v", call.Args))
	}
	sum := sha256.Sum256(append(append([]byte(call.Name), 0), args...))
	return hex.EncodeToString(sum[:])
}

// duplicate reports whether the fingerprint was already seen this session.
func (g *guardState) duplicate(fp string) bool {
	_, ok := g.seen[fp]
	return ok
}

func (g *guardState) remember(fp string) {
	g.seen[fp] = struct{}{}
}

// admit counts one real execution of the named tool and reports whether it
// stays within both the per-tool and total caps. Duplicate-blocked calls are
// never admitted, so they never consume budget.
func (g *guardState) admit(name string) bool {
	g.perTool[name]++
	g.total++
	return g.perTool[name] <= g.maxPerTool && g.total <= g.maxTotal
}
