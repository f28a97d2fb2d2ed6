// Package conversation drives one task: it alternates model calls and tool
// calls over an append-only history until the model answers or the
// iteration bound is hit.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

// Config holds per-loop settings.
type Config struct {
	Model         string
	Instructions  string // becomes the system message when non-empty
	Temperature   *float64
	TopP          *float64
	MaxIterations int                   // default: 10
	ModelTimeout  time.Duration         // per backend call, default: 120s
	Events        domain.EventPublisher // optional progress events
}

// Loop runs a single task. It is not reusable.
type Loop struct {
	backend domain.Backend
	tools   domain.ToolDispatcher
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	used       bool
	history    []domain.Message
	iterations int
}

// New creates a Loop. tools may be nil for an agent without capabilities.
func New(backend domain.Backend, tools domain.ToolDispatcher, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 120 * time.Second
	}
	return &Loop{
		backend: backend,
		tools:   tools,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns a copy of the transcript.
func (l *Loop) History() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Message, len(l.history))
	copy(out, l.history)
	return out
}

// Iterations returns the number of model calls made so far.
func (l *Loop) Iterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iterations
}

// Run executes task and returns the model's final answer.
func (l *Loop) Run(ctx context.Context, task string) (string, error) {
	const op = "Loop.Run"

	l.mu.Lock()
	if l.used {
		l.mu.Unlock()
		return "", domain.NewDomainError(op, domain.ErrLoopUsed, "")
	}
	l.used = true
	l.mu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "conversation.run",
		trace.WithAttributes(tracer.StringAttr("llm.model", l.config.Model)),
	)
	defer span.End()

	if l.config.Instructions != "" {
		l.append(domain.Message{Role: domain.RoleSystem, Content: l.config.Instructions})
	}
	l.append(domain.Message{Role: domain.RoleUser, Content: task})

	var tools []domain.ToolDescriptor
	if l.tools != nil {
		tools = l.tools.Tools()
	}

	for i := 0; i < l.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return l.fail(span, domain.WrapError(op, domain.ErrCanceled, err, ""))
		}
		span.AddEvent("conversation.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		l.setState(StateAwaitingModelResponse)
		resp, err := l.callModel(ctx, i, tools)
		if err != nil {
			return l.fail(span, err)
		}

		l.setState(StateInterpretingResponse)
		reply, err := domain.ParseReply(resp.Message)
		if err != nil {
			return l.fail(span, domain.WrapError(op, domain.ErrBackend, err, "malformed reply"))
		}

		switch r := reply.(type) {
		case domain.FinalAnswer:
			l.append(domain.Message{Role: domain.RoleAssistant, Content: r.Text})
			l.logger.Debug("llm response", "iteration", i, "tool_calls", 0)
			l.setState(StateDone)
			tracer.SetOK(span)
			return r.Text, nil

		case domain.ToolCallRequest:
			l.append(domain.Message{Role: domain.RoleAssistant, Content: r.Text, ToolCalls: r.Calls})
			l.logger.Debug("llm response", "iteration", i, "tool_calls", len(r.Calls))
			l.setState(StateAwaitingToolResult)

			for _, call := range r.Calls {
				msg, err := l.runTool(ctx, call)
				if err != nil {
					return l.fail(span, err)
				}
				l.append(msg)
			}
		}
	}

	return l.fail(span, domain.NewDomainError(op, domain.ErrIterationLimit,
		fmt.Sprintf("no final answer after %d iterations", l.config.MaxIterations)))
}

func (l *Loop) callModel(ctx context.Context, iteration int, tools []domain.ToolDescriptor) (*domain.ChatResponse, error) {
	const op = "Loop.callModel"

	ctx, span := tracer.StartSpan(ctx, "conversation.model_call",
		trace.WithAttributes(
			tracer.IntAttr("iteration", iteration),
			tracer.IntAttr("tools.count", len(tools)),
		),
	)
	defer span.End()

	l.mu.Lock()
	l.iterations++
	l.mu.Unlock()

	l.emit(ctx, domain.EventLLMCallStarted, domain.LLMCallPayload{Iteration: iteration, Model: l.config.Model})

	callCtx, cancel := context.WithTimeout(ctx, l.config.ModelTimeout)
	defer cancel()

	resp, err := l.backend.Chat(callCtx, domain.ChatRequest{
		Model:       l.config.Model,
		Messages:    l.History(),
		Tools:       tools,
		Temperature: l.config.Temperature,
		TopP:        l.config.TopP,
	})
	if err != nil {
		var derr error
		switch {
		case ctx.Err() != nil:
			derr = domain.WrapError(op, domain.ErrCanceled, ctx.Err(), l.backend.Name())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			derr = domain.WrapError(op, domain.ErrBackend,
				fmt.Errorf("%w after %s: %w", domain.ErrTimeout, l.config.ModelTimeout, err), l.backend.Name())
		default:
			derr = domain.WrapError(op, domain.ErrBackend, err, l.backend.Name())
		}
		tracer.RecordError(span, derr)
		l.emit(ctx, domain.EventLLMCallCompleted, domain.LLMCallPayload{Iteration: iteration, Model: l.config.Model, Error: derr.Error()})
		return nil, derr
	}
	if resp == nil {
		derr := domain.WrapError(op, domain.ErrBackend, domain.ErrEmptyReply, l.backend.Name())
		tracer.RecordError(span, derr)
		return nil, derr
	}

	tracer.SetOK(span)
	l.emit(ctx, domain.EventLLMCallCompleted, domain.LLMCallPayload{
		Iteration: iteration,
		Model:     l.config.Model,
		ToolCalls: len(resp.Message.ToolCalls),
	})
	return resp, nil
}

// runTool dispatches one call. Tool failures become error tool messages the
// model can read; only cancellation aborts the loop.
func (l *Loop) runTool(ctx context.Context, call domain.ToolCall) (domain.Message, error) {
	const op = "Loop.runTool"

	msg := domain.Message{Role: domain.RoleTool, ToolCallID: call.ID, ToolName: call.Name}
	req := domain.ToolInvocationRequest{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}

	l.emit(ctx, domain.EventToolCallStarted, domain.ToolCallPayload{CallID: call.ID, Name: call.Name, Arguments: call.Arguments})

	var (
		result *domain.ToolInvocationResult
		err    error
	)
	if l.tools == nil {
		err = domain.WrapError(op, domain.ErrInvocation, domain.ErrToolNotFound, call.Name)
	} else {
		result, err = l.tools.Dispatch(ctx, req)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Message{}, domain.WrapError(op, domain.ErrCanceled, ctxErr, call.Name)
	}
	if err != nil {
		if !domain.IsToolFailure(err) {
			err = domain.WrapError(op, domain.ErrInvocation, err, call.Name)
		}
		l.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "code", domain.ErrorCodeOf(err), "error", err)
		msg.Content = err.Error()
		msg.IsError = true
	} else {
		msg.Content = result.Content
	}
	l.emit(ctx, domain.EventToolCallCompleted, domain.ToolCallPayload{
		CallID:  call.ID,
		Name:    call.Name,
		Result:  msg.Content,
		IsError: msg.IsError,
	})
	return msg, nil
}

func (l *Loop) emit(ctx context.Context, typ domain.EventType, payload any) {
	if l.config.Events == nil {
		return
	}
	l.config.Events.Publish(ctx, domain.NewEvent(typ, payload))
}

func (l *Loop) append(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg.Ordinal = len(l.history)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}
	l.history = append(l.history, msg)
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	l.logger.Debug("conversation state", "from", prev.String(), "to", s.String())
}

func (l *Loop) fail(span trace.Span, err error) (string, error) {
	l.setState(StateFailed)
	tracer.RecordError(span, err)
	return "", err
}
