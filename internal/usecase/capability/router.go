package capability

import (
	"context"
	"log/slog"
	"sync"

	"ollama-mcp-agents/internal/domain"
)

// Invoker executes calls against one session.
type Invoker interface {
	Invoke(ctx context.Context, req domain.ToolInvocationRequest) (*domain.ToolInvocationResult, error)
}

// Router dispatches tool calls to the session owning each registered name.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]Invoker
}

var _ domain.ToolDispatcher = (*Router)(nil)

// NewRouter creates a Router over an empty registry.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		registry: NewRegistry(logger),
		logger:   logger,
		sessions: make(map[string]Invoker),
	}
}

// Add registers a session's tools and makes the session reachable.
func (r *Router) Add(sessionID string, inv Invoker, tools []domain.ToolDescriptor) {
	r.mu.Lock()
	r.sessions[sessionID] = inv
	r.mu.Unlock()
	r.registry.Register(sessionID, tools)
	r.logger.Debug("session routed", "session_id", sessionID, "tools", len(tools), "routable", r.registry.Len())
}

// Tools returns every callable tool in registration order.
func (r *Router) Tools() []domain.ToolDescriptor { return r.registry.All() }

// Dispatch routes req to its owning session. Names absent from the registry
// fail locally with domain.ErrToolNotFound.
func (r *Router) Dispatch(ctx context.Context, req domain.ToolInvocationRequest) (*domain.ToolInvocationResult, error) {
	const op = "Router.Dispatch"

	entry, ok := r.registry.Lookup(req.Name)
	if !ok {
		return nil, domain.WrapError(op, domain.ErrInvocation, domain.ErrToolNotFound, req.Name)
	}

	r.mu.RLock()
	inv, ok := r.sessions[entry.SessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.WrapError(op, domain.ErrInvocation, domain.ErrToolNotFound, req.Name)
	}
	return inv.Invoke(ctx, req)
}
