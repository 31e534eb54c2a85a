// Package orchestrator drives the bounded exchange between the model
// gateway and the tool executor for one conversation turn: it loads and
// persists history, enforces loop and duplicate guards, and forwards one
// canonical event sequence to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/shopchat/conversation"
	"github.com/sweetpotato0/shopchat/errors"
	"github.com/sweetpotato0/shopchat/event"
	"github.com/sweetpotato0/shopchat/gateway"
	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/pkg/logging"
	"github.com/sweetpotato0/shopchat/pkg/telemetry"
	"github.com/sweetpotato0/shopchat/tool"
)

const (
	defaultMaxCallsPerTool = 2
	defaultMaxTotalCalls   = 5
)

var tracer = otel.Tracer("orchestrator")

// Request is one inbound user message addressed to a shop.
type Request struct {
	// ConversationID resumes an existing conversation; empty starts a new one.
	ConversationID string
	// Message is the user's text. Required.
	Message string
	// PromptType selects the system prompt for new conversations.
	PromptType string
	// Shop is the storefront domain this conversation is about. Required;
	// there is no implicit default.
	Shop string
}

// Orchestrator coordinates model streaming, tool execution and persistence
// for conversation turns. Turns for the same conversation are serialized;
// different conversations run independently.
type Orchestrator struct {
	store       conversation.Store
	gw          gateway.Gateway
	registry    *tool.Registry
	maxPerTool  int
	maxTotal    int
	locks       sync.Map
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCallCaps overrides the per-tool and total tool invocation caps.
func WithCallCaps(perTool, total int) Option {
	return func(o *Orchestrator) {
		if perTool > 0 {
			o.maxPerTool = perTool
		}
		if total > 0 {
			o.maxTotal = total
		}
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over the given store, gateway and registry.
func New(store conversation.Store, gw gateway.Gateway, registry *tool.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		gw:         gw,
		registry:   registry,
		maxPerTool: defaultMaxCallsPerTool,
		maxTotal:   defaultMaxTotalCalls,
		logger:     logging.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn drives one full conversation turn, forwarding the canonical event
// sequence to the sink. The sequence always starts with an id event and ends
// with end_turn or a terminal error event; a validation failure is returned
// before any event is emitted.
//
// If the consumer disconnects mid-turn, the in-flight tool execution is
// allowed to finish and its result is still persisted, so the conversation
// can be resumed later; no further model rounds are started.
func (o *Orchestrator) RunTurn(ctx context.Context, req *Request, emit event.Sink) error {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", errors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Shop) == "" {
		return fmt.Errorf("%w: shop is required", errors.ErrInvalidInput)
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	mu := o.conversationLock(convID)
	mu.Lock()
	defer mu.Unlock()

	ctx, span := tracer.Start(ctx, "orchestrator.run_turn",
		trace.WithAttributes(
			attribute.String("conversation.id", convID),
			attribute.String("shop", req.Shop),
		))
	var turnErr error
	defer func() { telemetry.End(span, turnErr) }()

	out := &sender{emit: emit, logger: o.logger}
	out.send(event.ID(convID))

	history, err := o.store.Read(ctx, convID)
	if err != nil {
		turnErr = fmt.Errorf("read conversation %s: %w", convID, err)
		out.send(event.Error("conversation history is unavailable"))
		return turnErr
	}
	history = message.Collapse(history)

	// Writes must survive a consumer disconnect.
	persistCtx := context.WithoutCancel(ctx)

	if len(history) == 0 {
		system := message.NewTurn(message.RoleSystem, systemPrompt(req.PromptType, req.Shop))
		o.persist(persistCtx, convID, system)
		history = append(history, system)
	}

	userTurn := message.NewTurn(message.RoleUser, req.Message)
	o.persist(persistCtx, convID, userTurn)
	history = append(history, userTurn)

	descriptors := o.registry.Discover(ctx)

	guards := newGuardState(o.maxPerTool, o.maxTotal)
	var products []tool.Product
	completed := false

	// Duplicate-blocked calls consume no counter budget, so the round count
	// itself is bounded to guarantee termination against a model that keeps
	// reissuing the same call.
	for round := 0; round <= o.maxTotal && !completed; round++ {
		var (
			assistant *message.Turn
			queued    []*message.Turn
			toolRound bool
			capHit    bool
		)

		streamErr := o.gw.StreamTurn(ctx, history, descriptors, gateway.Handlers{
			OnTextDelta: func(text string) error {
				out.send(event.Chunk(text))
				return nil
			},
			OnToolCall: func(call message.ToolCall) error {
				if capHit {
					// The assistant turn still carries this call, so it needs
					// a paired outcome or resumed conversations replay an
					// orphaned tool call the providers reject.
					queued = append(queued, message.NewToolResultTurn(call.ID,
						capReachedResult(call.Name), true))
					return nil
				}
				out.send(event.ToolUse(call.Name, call.Args))

				fp := fingerprint(call)
				if guards.duplicate(fp) {
					o.logger.Info("duplicate tool call blocked",
						"conversation_id", convID, "tool", call.Name)
					queued = append(queued, message.NewToolResultTurn(call.ID,
						duplicateBlockedResult(call.Name), true))
					toolRound = true
					return nil
				}
				guards.remember(fp)

				if !guards.admit(call.Name) {
					o.logger.Warn("tool call cap reached",
						"conversation_id", convID, "tool", call.Name,
						"total", guards.total)
					capHit = true
					queued = append(queued, message.NewToolResultTurn(call.ID,
						capReachedResult(call.Name), true))
					return nil
				}

				execCtx, toolSpan := tracer.Start(persistCtx, "tool.execute",
					trace.WithAttributes(attribute.String("tool.name", call.Name)))
				outcome := o.registry.Execute(execCtx, req.Shop, call.Name, call.Args)
				telemetry.End(toolSpan, nil)
				if len(outcome.Products) > 0 {
					products = append(products, outcome.Products...)
				}
				queued = append(queued, message.NewToolResultTurn(call.ID,
					outcome.Content, outcome.IsError))
				toolRound = true
				return nil
			},
			OnComplete: func(turn *message.Turn) error {
				assistant = turn
				return nil
			},
		})

		if assistant != nil && (assistant.Text() != "" || len(assistant.ToolCalls) > 0) {
			o.persist(persistCtx, convID, assistant)
			history = append(history, assistant)
		}
		for _, result := range queued {
			o.persist(persistCtx, convID, result)
			history = append(history, result)
		}

		if streamErr != nil {
			// Best-effort completion: whatever partial text the gateway
			// accumulated is already persisted and streamed.
			o.logger.Warn("model stream failed, ending turn with partial output",
				"conversation_id", convID, "error", streamErr)
			o.finish(out, products)
			completed = true
			break
		}

		if capHit {
			o.finishWithFallback(persistCtx, convID, out, &history, products)
			completed = true
			break
		}

		if !toolRound {
			o.finish(out, products)
			completed = true
			break
		}

		if out.failed() {
			// Consumer is gone; the round's results are persisted, stop here.
			break
		}
	}

	if !completed && !out.failed() {
		// Round budget exhausted without a natural completion.
		o.finishWithFallback(persistCtx, convID, out, &history, products)
	}

	out.send(event.EndTurn())
	return nil
}

// finish flushes the side-channel accumulator and marks the assistant turn
// complete.
func (o *Orchestrator) finish(out *sender, products []tool.Product) {
	if len(products) > 0 {
		out.send(event.Products(products))
	}
	out.send(event.MessageComplete())
}

// finishWithFallback ends a capped session with a graceful terminal
// assistant message instead of an error.
func (o *Orchestrator) finishWithFallback(ctx context.Context, convID string, out *sender, history *[]*message.Turn, products []tool.Product) {
	fallback := message.NewTurn(message.RoleAssistant, capReachedMessage)
	o.persist(ctx, convID, fallback)
	*history = append(*history, fallback)
	out.send(event.Chunk(capReachedMessage))
	o.finish(out, products)
}

// persist appends a turn, logging write failures without interrupting the
// live stream.
func (o *Orchestrator) persist(ctx context.Context, convID string, turn *message.Turn) {
	if err := o.store.Append(ctx, convID, turn); err != nil {
		o.logger.Error("failed to persist turn",
			"conversation_id", convID, "role", turn.Role, "error", err)
	}
}

// conversationLock returns the mutex serializing turns for one conversation.
// Entries live for the process lifetime; evicting one without refcounting
// could hand two concurrent turns different mutexes for the same id.
func (o *Orchestrator) conversationLock(convID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(convID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// History returns the persisted conversation as a single snapshot, with
// consecutive duplicate turns collapsed.
func (o *Orchestrator) History(ctx context.Context, convID string) ([]*message.Turn, error) {
	if strings.TrimSpace(convID) == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", errors.ErrInvalidInput)
	}
	turns, err := o.store.Read(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", convID, err)
	}
	return message.Collapse(turns), nil
}

// sender forwards events in emission order, swallowing delivery failures
// after the first one so the turn can keep persisting its results.
type sender struct {
	emit   event.Sink
	logger *slog.Logger
	err    error
}

func (s *sender) send(ev event.Event) {
	if s.err != nil {
		return
	}
	if err := s.emit(ev); err != nil {
		s.err = err
		s.logger.Warn("event delivery failed, consumer likely disconnected", "error", err)
	}
}

func (s *sender) failed() bool { return s.err != nil }
