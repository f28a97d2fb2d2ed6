package toolsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

type toolEntry struct {
	desc   domain.ToolDescriptor
	schema *jsonschema.Schema
}

// Session is a live handle on one tool-provider process. Its state moves
// from live to closed exactly once; a closed session never reconnects.
type Session struct {
	id               string
	name             string
	active           bool
	conn             domain.ToolProviderConn
	toolTimeout      time.Duration
	handshakeTimeout time.Duration
	limiter          *rate.Limiter
	logger           *slog.Logger

	mu         sync.Mutex // guards the fields below; held across the handshake
	discovered bool
	tools      []domain.ToolDescriptor
	byName     map[string]*toolEntry
	closed     bool

	closeOnce sync.Once
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Name returns the configured server name.
func (s *Session) Name() string { return s.name }

// Active reports whether the session owns a process.
func (s *Session) Active() bool { return s.active }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Discover performs the one-time capability handshake and caches the
// result. Later calls return the cached snapshot.
func (s *Session) Discover(ctx context.Context) ([]domain.ToolDescriptor, error) {
	const op = "Session.Discover"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discovered {
		return cloneTools(s.tools), nil
	}
	if s.closed {
		return nil, domain.WrapError(op, domain.ErrHandshake, domain.ErrSessionClosed, s.name)
	}

	ctx, span := tracer.StartSpan(ctx, "toolsession.discover",
		trace.WithAttributes(tracer.StringAttr("server.name", s.name)),
	)
	defer span.End()

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	tools, err := s.conn.ListTools(hctx)
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			s.closed = true
		}
		derr := classifyCtx(hctx, op, domain.ErrHandshake, err, s.name)
		tracer.RecordError(span, derr)
		return nil, derr
	}

	byName := make(map[string]*toolEntry, len(tools))
	for _, t := range tools {
		if _, dup := byName[t.Name]; dup {
			derr := domain.NewDomainError(op, domain.ErrHandshake,
				fmt.Sprintf("%s: duplicate tool name %q", s.name, t.Name))
			tracer.RecordError(span, derr)
			return nil, derr
		}
		schema, err := compileSchema(t.Parameters)
		if err != nil {
			derr := domain.WrapError(op, domain.ErrHandshake, err, fmt.Sprintf("%s: tool %q", s.name, t.Name))
			tracer.RecordError(span, derr)
			return nil, derr
		}
		byName[t.Name] = &toolEntry{desc: t, schema: schema}
	}

	s.tools = cloneTools(tools)
	s.byName = byName
	s.discovered = true

	span.SetAttributes(tracer.IntAttr("tools.count", len(tools)))
	tracer.SetOK(span)
	s.logger.Info("tools discovered", "count", len(tools))
	return cloneTools(s.tools), nil
}

// Tools returns the cached capability snapshot, nil before discovery.
func (s *Session) Tools() []domain.ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTools(s.tools)
}

// Invoke calls one tool. Unknown names and malformed arguments are rejected
// without contacting the process. Every failure wraps domain.ErrInvocation.
func (s *Session) Invoke(ctx context.Context, req domain.ToolInvocationRequest) (*domain.ToolInvocationResult, error) {
	const op = "Session.Invoke"

	ctx, span := tracer.StartSpan(ctx, "toolsession.invoke",
		trace.WithAttributes(
			tracer.StringAttr("server.name", s.name),
			tracer.StringAttr("tool.name", req.Name),
			tracer.StringAttr("tool.call_id", req.CallID),
		),
	)
	defer span.End()

	fail := func(cause error) (*domain.ToolInvocationResult, error) {
		derr := domain.WrapError(op, domain.ErrInvocation, cause, req.Name)
		tracer.RecordError(span, derr)
		return nil, derr
	}

	s.mu.Lock()
	closed := s.closed
	entry, ok := s.byName[req.Name]
	s.mu.Unlock()

	if closed {
		return fail(domain.ErrSessionClosed)
	}
	if !ok {
		return fail(domain.ErrToolNotFound)
	}

	args, err := validateArguments(entry.schema, req.Arguments)
	if err != nil {
		return fail(err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fail(fmt.Errorf("rate limit: %w", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.conn.CallTool(callCtx, req.Name, args)
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			s.logger.Warn("tool process gone, closing session", "tool", req.Name, "error", err)
			_ = s.Close()
		}
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Errorf("%w after %s: %w", domain.ErrTimeout, s.toolTimeout, err))
		}
		return fail(err)
	}

	s.logger.Debug("tool invoked", "tool", req.Name, "duration", time.Since(start), "is_error", result.IsError)

	if result.IsError {
		return fail(errors.New(result.Content))
	}

	tracer.SetOK(span)
	return &domain.ToolInvocationResult{
		CallID:  req.CallID,
		Name:    req.Name,
		Content: result.Content,
	}, nil
}

// Close terminates the process. It is idempotent and safe on a session
// that failed; only the first call can return an error.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.conn == nil {
			return
		}
		if err = s.conn.Close(); err != nil {
			s.logger.Warn("tool session close failed", "error", err)
			return
		}
		s.logger.Info("tool session closed")
	})
	return err
}

// validateArguments normalizes empty arguments to {} and checks them
// against the tool's schema.
func validateArguments(schema *jsonschema.Schema, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", domain.ErrInvalidArguments)
	}
	if schema != nil {
		if result := schema.Validate(v); !result.IsValid() {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArguments, result.Error())
		}
	}
	return raw, nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	return schema, nil
}

func cloneTools(tools []domain.ToolDescriptor) []domain.ToolDescriptor {
	if tools == nil {
		return nil
	}
	out := make([]domain.ToolDescriptor, len(tools))
	copy(out, tools)
	return out
}
