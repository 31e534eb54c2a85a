package orchestrator

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/shopchat/conversation"
	"github.com/sweetpotato0/shopchat/errors"
	"github.com/sweetpotato0/shopchat/event"
	"github.com/sweetpotato0/shopchat/gateway"
	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/tool"
)

// scriptedGateway replays a fixed sequence of model rounds, one per
// StreamTurn call. The last round repeats if the orchestrator asks for more.
type scriptedGateway struct {
	rounds []modelRound
	calls  int
}

type modelRound struct {
	text      string
	toolCalls []message.ToolCall
	err       error
}

func (g *scriptedGateway) StreamTurn(ctx context.Context, turns []*message.Turn, tools []*tool.Descriptor, h gateway.Handlers) error {
	idx := g.calls
	if idx >= len(g.rounds) {
		idx = len(g.rounds) - 1
	}
	g.calls++
	round := g.rounds[idx]

	if round.text != "" && h.OnTextDelta != nil {
		if err := h.OnTextDelta(round.text); err != nil {
			return err
		}
	}
	for _, call := range round.toolCalls {
		if h.OnToolCall != nil {
			if err := h.OnToolCall(call); err != nil {
				return err
			}
		}
	}
	if h.OnComplete != nil {
		if err := h.OnComplete(message.NewToolCallTurn(round.text, round.toolCalls)); err != nil {
			return err
		}
	}
	return round.err
}

type stubSource struct {
	descriptors []*tool.Descriptor
	outcome     *tool.Outcome
	invocations int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Connect(ctx context.Context) ([]*tool.Descriptor, error) {
	return s.descriptors, nil
}

func (s *stubSource) Invoke(ctx context.Context, name string, input map[string]any) (*tool.Outcome, error) {
	s.invocations++
	return s.outcome, nil
}

func (s *stubSource) Close() error { return nil }

func searchSource(outcome *tool.Outcome) *stubSource {
	return &stubSource{
		descriptors: []*tool.Descriptor{{
			Name:        "search_shop_catalog",
			Description: "Search the product catalog",
			InputSchema: map[string]any{"type": "object"},
		}},
		outcome: outcome,
	}
}

func collectEvents(events *[]event.Event) event.Sink {
	return func(ev event.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func eventTypes(events []event.Event) []event.Type {
	types := make([]event.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestPlainTextTurn(t *testing.T) {
	store := conversation.NewInMemoryStore()
	gw := &scriptedGateway{rounds: []modelRound{{text: "Hi! How can I help?"}}}
	orch := New(store, gw, tool.NewRegistry(nil))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "hello",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{
		event.TypeID, event.TypeChunk, event.TypeMessageComplete, event.TypeEndTurn,
	}, eventTypes(events))
	require.NotEmpty(t, events[0].ConversationID)

	turns, err := store.Read(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, message.RoleSystem, turns[0].Role)
	assert.Equal(t, message.RoleUser, turns[1].Role)
	assert.Equal(t, message.RoleAssistant, turns[2].Role)
	assert.Equal(t, "Hi! How can I help?", turns[2].Text())
}

func TestRejectsMissingMessage(t *testing.T) {
	orch := New(conversation.NewInMemoryStore(), &scriptedGateway{rounds: []modelRound{{}}}, tool.NewRegistry(nil))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "   ",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))

	require.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Empty(t, events, "no events before validation passes")
}

func TestRejectsMissingShop(t *testing.T) {
	orch := New(conversation.NewInMemoryStore(), &scriptedGateway{rounds: []modelRound{{}}}, tool.NewRegistry(nil))

	err := orch.RunTurn(context.Background(), &Request{Message: "hello"}, func(event.Event) error { return nil })
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestToolRoundThenAnswer(t *testing.T) {
	source := searchSource(tool.NormalizeRaw(`{"products":[{"title":"Red Boots","url":"https://x/p/1","price":"89.00"}],"query":"boots"}`))
	gw := &scriptedGateway{rounds: []modelRound{
		{toolCalls: []message.ToolCall{{ID: "c1", Name: "search_shop_catalog", Args: map[string]any{"query": "boots"}}}},
		{text: "I found Red Boots for $89."},
	}}
	store := conversation.NewInMemoryStore()
	orch := New(store, gw, tool.NewRegistry(nil, source))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "show me boots",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{
		event.TypeID, event.TypeToolUse, event.TypeChunk,
		event.TypeProducts, event.TypeMessageComplete, event.TypeEndTurn,
	}, eventTypes(events))

	assert.Equal(t, 1, source.invocations)

	var productsEvent *event.Event
	for i := range events {
		if events[i].Type == event.TypeProducts {
			productsEvent = &events[i]
		}
	}
	require.NotNil(t, productsEvent)
	require.Len(t, productsEvent.Products, 1)
	assert.Equal(t, "Red Boots", productsEvent.Products[0].Title)

	turns, err := store.Read(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	// system, user, assistant tool call, tool result, final assistant.
	require.Len(t, turns, 5)
	assert.Equal(t, message.RoleTool, turns[3].Role)
}

func TestDuplicateCallsBlockedAndSessionTerminates(t *testing.T) {
	source := searchSource(tool.NormalizeRaw(`{"products":[],"query":"x"}`))
	sameCall := message.ToolCall{Name: "search_shop_catalog", Args: map[string]any{"query": "x"}}
	gw := &scriptedGateway{rounds: []modelRound{
		{toolCalls: []message.ToolCall{sameCall}},
	}}
	store := conversation.NewInMemoryStore()
	orch := New(store, gw, tool.NewRegistry(nil, source))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "find x",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, 1, source.invocations, "identical call must execute for real only once")

	types := eventTypes(events)
	assert.Equal(t, event.TypeEndTurn, types[len(types)-1])
	completes := 0
	for _, typ := range types {
		if typ == event.TypeMessageComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)

	var lastChunk string
	for _, ev := range events {
		if ev.Type == event.TypeChunk {
			lastChunk = ev.Chunk
		}
	}
	assert.Equal(t, capReachedMessage, lastChunk, "capped session ends with a graceful message")

	turns, err := store.Read(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	var blocked int
	for _, turn := range turns {
		if block, ok := turn.ToolResult(); ok && block.IsError {
			blocked++
		}
	}
	assert.Greater(t, blocked, 0, "duplicate calls leave synthesized blocked results in history")
}

func TestPerToolCapEndsSessionGracefully(t *testing.T) {
	source := searchSource(tool.NormalizeRaw(`{"products":[],"query":"q"}`))
	rounds := make([]modelRound, 0, 3)
	for i := 0; i < 3; i++ {
		rounds = append(rounds, modelRound{toolCalls: []message.ToolCall{{
			ID:   fmt.Sprintf("c%d", i),
			Name: "search_shop_catalog",
			Args: map[string]any{"query": fmt.Sprintf("q%d", i)},
		}}})
	}
	gw := &scriptedGateway{rounds: rounds}
	orch := New(conversation.NewInMemoryStore(), gw, tool.NewRegistry(nil, source))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "keep searching",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, 2, source.invocations, "per-tool cap of 2 bounds real executions")

	var lastChunk string
	for _, ev := range events {
		if ev.Type == event.TypeChunk {
			lastChunk = ev.Chunk
		}
	}
	assert.Equal(t, capReachedMessage, lastChunk)
	assert.Equal(t, event.TypeEndTurn, events[len(events)-1].Type)
}

func TestCappedSessionLeavesNoOrphanedToolCalls(t *testing.T) {
	source := searchSource(tool.NormalizeRaw(`{"products":[],"query":"q"}`))
	rounds := make([]modelRound, 0, 3)
	for i := 0; i < 3; i++ {
		rounds = append(rounds, modelRound{toolCalls: []message.ToolCall{{
			ID:   fmt.Sprintf("c%d", i),
			Name: "search_shop_catalog",
			Args: map[string]any{"query": fmt.Sprintf("q%d", i)},
		}}})
	}
	gw := &scriptedGateway{rounds: rounds}
	store := conversation.NewInMemoryStore()
	orch := New(store, gw, tool.NewRegistry(nil, source))

	var events []event.Event
	require.NoError(t, orch.RunTurn(context.Background(), &Request{
		Message: "keep searching",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events)))
	convID := events[0].ConversationID

	turns, err := store.Read(context.Background(), convID)
	require.NoError(t, err)

	resolved := make(map[string]bool)
	for _, turn := range turns {
		if block, ok := turn.ToolResult(); ok {
			resolved[block.ToolCallID] = true
		}
	}
	for _, turn := range turns {
		for _, call := range turn.ToolCalls {
			assert.True(t, resolved[call.ID],
				"tool call %s has no persisted outcome turn", call.ID)
		}
	}

	// The capped call's synthesized outcome keeps the history replayable;
	// a resumed turn completes normally instead of being rejected upstream.
	gw.rounds = []modelRound{{text: "picking up where we left off"}}
	gw.calls = 0
	var resumed []event.Event
	require.NoError(t, orch.RunTurn(context.Background(), &Request{
		ConversationID: convID,
		Message:        "anything else?",
		Shop:           "example.myshopify.com",
	}, collectEvents(&resumed)))
	types := eventTypes(resumed)
	assert.Contains(t, types, event.TypeMessageComplete)
	assert.Equal(t, event.TypeEndTurn, types[len(types)-1])
}

func TestGatewayFailureYieldsBestEffortCompletion(t *testing.T) {
	gw := &scriptedGateway{rounds: []modelRound{{
		text: "Here is a partial ans",
		err:  goerrors.New("connection reset"),
	}}}
	store := conversation.NewInMemoryStore()
	orch := New(store, gw, tool.NewRegistry(nil))

	var events []event.Event
	err := orch.RunTurn(context.Background(), &Request{
		Message: "hello",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events))
	require.NoError(t, err)

	types := eventTypes(events)
	assert.Contains(t, types, event.TypeMessageComplete)
	assert.Equal(t, event.TypeEndTurn, types[len(types)-1])

	turns, err := store.Read(context.Background(), events[0].ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Here is a partial ans", turns[len(turns)-1].Text())
}

func TestConsumerDisconnectStillPersistsToolResult(t *testing.T) {
	source := searchSource(tool.NormalizeRaw(`{"products":[],"query":"boots"}`))
	gw := &scriptedGateway{rounds: []modelRound{
		{toolCalls: []message.ToolCall{{ID: "c1", Name: "search_shop_catalog", Args: map[string]any{"query": "boots"}}}},
		{text: "should never be streamed"},
	}}
	store := conversation.NewInMemoryStore()
	orch := New(store, gw, tool.NewRegistry(nil, source))

	var convID string
	delivered := 0
	sink := func(ev event.Event) error {
		if ev.Type == event.TypeID {
			convID = ev.ConversationID
		}
		delivered++
		if delivered > 1 {
			return goerrors.New("client went away")
		}
		return nil
	}

	err := orch.RunTurn(context.Background(), &Request{
		Message: "show me boots",
		Shop:    "example.myshopify.com",
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, source.invocations, "in-flight tool execution completes")
	assert.Equal(t, 1, gw.calls, "no further model rounds after disconnect")

	turns, err := store.Read(context.Background(), convID)
	require.NoError(t, err)
	found := false
	for _, turn := range turns {
		if _, ok := turn.ToolResult(); ok {
			found = true
		}
	}
	assert.True(t, found, "tool result persisted for later resumption")
}

func TestResumedConversationSkipsSystemPrompt(t *testing.T) {
	store := conversation.NewInMemoryStore()
	gw := &scriptedGateway{rounds: []modelRound{{text: "first"}, {text: "second"}}}
	orch := New(store, gw, tool.NewRegistry(nil))

	var events []event.Event
	require.NoError(t, orch.RunTurn(context.Background(), &Request{
		Message: "hello",
		Shop:    "example.myshopify.com",
	}, collectEvents(&events)))
	convID := events[0].ConversationID

	require.NoError(t, orch.RunTurn(context.Background(), &Request{
		ConversationID: convID,
		Message:        "and again",
		Shop:           "example.myshopify.com",
	}, func(event.Event) error { return nil }))

	turns, err := store.Read(context.Background(), convID)
	require.NoError(t, err)
	systems := 0
	for _, turn := range turns {
		if turn.Role == message.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestHistoryCollapsesConsecutiveDuplicates(t *testing.T) {
	store := conversation.NewInMemoryStore()
	ctx := context.Background()
	_ = store.Append(ctx, "conv", message.NewTurn(message.RoleUser, "hi"))
	dup := message.NewTurn(message.RoleUser, "hi")
	_ = store.Append(ctx, "conv", dup)
	_ = store.Append(ctx, "conv", message.NewTurn(message.RoleAssistant, "hello"))

	orch := New(store, &scriptedGateway{rounds: []modelRound{{}}}, tool.NewRegistry(nil))
	turns, err := orch.History(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, message.RoleUser, turns[0].Role)
	assert.Equal(t, message.RoleAssistant, turns[1].Role)
}

func TestHistoryRequiresConversationID(t *testing.T) {
	orch := New(conversation.NewInMemoryStore(), &scriptedGateway{rounds: []modelRound{{}}}, tool.NewRegistry(nil))
	_, err := orch.History(context.Background(), "")
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestFingerprintIgnoresArgOrderAndCallID(t *testing.T) {
	a := message.ToolCall{ID: "c1", Name: "search_shop_catalog", Args: map[string]any{"query": "x", "context": "y"}}
	b := message.ToolCall{ID: "c2", Name: "search_shop_catalog", Args: map[string]any{"context": "y", "query": "x"}}
	c := message.ToolCall{ID: "c3", Name: "search_shop_catalog", Args: map[string]any{"query": "z"}}

	assert.Equal(t, fingerprint(a), fingerprint(b))
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
}
