// Package capability merges the tools of one or more sessions into a single
// name-addressed table and routes calls to the owning session.
package capability

import (
	"log/slog"
	"slices"
	"sync"

	"ollama-mcp-agents/internal/domain"
)

// Entry is one registered tool and the session that owns it.
type Entry struct {
	SessionID string
	Tool      domain.ToolDescriptor
}

// Registry maps tool names to descriptors. On a name collision the last
// registration wins and the name moves to the position of that registration,
// so All() order depends only on the sequence of Register calls.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Register adds the tools of one session.
func (r *Registry) Register(sessionID string, tools []domain.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if prev, exists := r.entries[t.Name]; exists {
			r.logger.Warn("tool name collision, last registration wins",
				"tool", t.Name,
				"previous_session", prev.SessionID,
				"winner_session", sessionID,
			)
			if i := slices.Index(r.order, t.Name); i >= 0 {
				r.order = slices.Delete(r.order, i, i+1)
			}
		}
		r.entries[t.Name] = Entry{SessionID: sessionID, Tool: t}
		r.order = append(r.order, t.Name)
	}
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].Tool)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
