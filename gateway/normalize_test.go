package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/shopchat/message"
)

func TestNormalizeStripsAnnotations(t *testing.T) {
	turn := message.NewTurn(message.RoleAssistant, "Here are some boots.")
	turn.AddAnnotation("guard: duplicate search blocked")

	got := Normalize([]*message.Turn{turn}, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "Here are some boots.", got[0].Text())
	for _, b := range got[0].Blocks {
		assert.NotEqual(t, message.BlockAnnotation, b.Type)
	}
}

func TestNormalizeDropsAnnotationOnlyTurns(t *testing.T) {
	empty := &message.Turn{Role: message.RoleAssistant}
	empty.AddAnnotation("internal note")

	got := Normalize([]*message.Turn{
		message.NewTurn(message.RoleUser, "hi"),
		empty,
	}, 0)

	require.Len(t, got, 1)
	assert.Equal(t, message.RoleUser, got[0].Role)
}

func TestNormalizeKeepsToolTraffic(t *testing.T) {
	call := message.NewToolCallTurn("", []message.ToolCall{{ID: "c1", Name: "search_shop_catalog"}})
	result := message.NewToolResultTurn("c1", `{"products":[]}`, false)

	got := Normalize([]*message.Turn{call, result}, 0)

	require.Len(t, got, 2)
	assert.Len(t, got[0].ToolCalls, 1)
	_, ok := got[1].ToolResult()
	assert.True(t, ok)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	turn := message.NewTurn(message.RoleAssistant, "visible")
	turn.AddAnnotation("hidden")
	before := len(turn.Blocks)

	Normalize([]*message.Turn{turn}, 0)

	assert.Equal(t, before, len(turn.Blocks))
}

func TestTruncateKeepsSystemAndNewestSuffix(t *testing.T) {
	turns := []*message.Turn{
		message.NewTurn(message.RoleSystem, "You are a shop assistant."),
	}
	for i := 0; i < 40; i++ {
		turns = append(turns, message.NewTurn(message.RoleUser, strings.Repeat("old filler text ", 50)))
	}
	turns = append(turns, message.NewTurn(message.RoleUser, "newest question"))

	got := Normalize(turns, 300)

	require.NotEmpty(t, got)
	assert.Equal(t, message.RoleSystem, got[0].Role)
	assert.Equal(t, "newest question", got[len(got)-1].Text())
	assert.Less(t, len(got), len(turns))
}

func TestTruncateNeverStartsSuffixAtToolResult(t *testing.T) {
	turns := []*message.Turn{}
	for i := 0; i < 20; i++ {
		turns = append(turns, message.NewTurn(message.RoleUser, strings.Repeat("padding words here ", 40)))
	}
	turns = append(turns,
		message.NewToolCallTurn("", []message.ToolCall{{ID: "c9", Name: "search_shop_catalog"}}),
		message.NewToolResultTurn("c9", "result payload", false),
		message.NewTurn(message.RoleAssistant, "final answer"),
	)

	got := Normalize(turns, 150)

	require.NotEmpty(t, got)
	assert.NotEqual(t, message.RoleTool, got[0].Role)
}

func TestNormalizeZeroBudgetDisablesTruncation(t *testing.T) {
	turns := []*message.Turn{}
	for i := 0; i < 100; i++ {
		turns = append(turns, message.NewTurn(message.RoleUser, strings.Repeat("x", 500)))
	}

	got := Normalize(turns, 0)

	assert.Len(t, got, 100)
}
