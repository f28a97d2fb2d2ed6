// Package agents holds the configured agents and runs tasks against them.
package agents

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
)

// DefaultAgentID names the tool-less agent created when no servers are configured.
const DefaultAgentID = "assistant"

// Registry maps agent identifiers to immutable descriptors, in definition order.
type Registry struct {
	order  []string
	agents map[string]domain.AgentDescriptor
}

// NewRegistry validates defs and builds a Registry. Duplicate identifiers
// return domain.ErrDuplicateAgent. Descriptors without a model get defaultModel.
func NewRegistry(defs []domain.AgentDescriptor, defaultModel string, logger *slog.Logger) (*Registry, error) {
	const op = "agents.NewRegistry"

	r := &Registry{agents: make(map[string]domain.AgentDescriptor, len(defs))}
	for _, d := range defs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, domain.NewDomainError(op, domain.ErrConfiguration, "agent identifier is empty")
		}
		if _, exists := r.agents[id]; exists {
			return nil, domain.NewDomainError(op, domain.ErrDuplicateAgent, id)
		}
		d.ID = id
		if d.Model == "" {
			d.Model = defaultModel
		}
		if d.Model == "" {
			return nil, domain.NewDomainError(op, domain.ErrConfiguration, fmt.Sprintf("agent %q has no model", id))
		}
		d.Session = cloneSpec(d.Session)
		r.agents[id] = d
		r.order = append(r.order, id)
		logger.Debug("agent registered", "agent_id", id, "model", d.Model, "tools", d.HasActiveSession())
	}
	return r, nil
}

// Get returns the descriptor for id or domain.ErrAgentNotFound.
func (r *Registry) Get(id string) (domain.AgentDescriptor, error) {
	d, ok := r.agents[id]
	if !ok {
		return domain.AgentDescriptor{}, domain.NewDomainError("Registry.Get", domain.ErrAgentNotFound, id)
	}
	d.Session = cloneSpec(d.Session)
	return d, nil
}

// List returns every descriptor in definition order.
func (r *Registry) List() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.agents[id]
		d.Session = cloneSpec(d.Session)
		out = append(out, d)
	}
	return out
}

// IDs returns the agent identifiers in definition order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

// FromConfig derives one agent per mcpServers entry, keyed by the server
// name. Inactive servers still yield an agent; it simply has no tools.
// Without any servers a single tool-less DefaultAgentID agent is returned.
func FromConfig(cfg *config.Config) []domain.AgentDescriptor {
	if len(cfg.MCPServers) == 0 {
		return []domain.AgentDescriptor{{ID: DefaultAgentID, Model: cfg.Backend.Model}}
	}
	defs := make([]domain.AgentDescriptor, 0, len(cfg.MCPServers))
	for _, srv := range cfg.MCPServers {
		model := srv.Model
		if model == "" {
			model = cfg.Backend.Model
		}
		defs = append(defs, domain.AgentDescriptor{
			ID:           srv.Name,
			Model:        model,
			Instructions: srv.Instructions,
			Session: &domain.ToolSessionSpec{
				Name:    srv.Name,
				Command: srv.Command,
				Args:    slices.Clone(srv.Args),
				Env:     maps.Clone(srv.Env),
				Active:  srv.Active,
			},
			KeepWarm:    srv.KeepWarm,
			Temperature: srv.Temperature,
		})
	}
	return defs
}

func cloneSpec(s *domain.ToolSessionSpec) *domain.ToolSessionSpec {
	if s == nil {
		return nil
	}
	c := *s
	c.Args = slices.Clone(s.Args)
	c.Env = maps.Clone(s.Env)
	return &c
}
