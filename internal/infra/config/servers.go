package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MCPServer configures one tool-provider process and the agent that uses it.
// The server's key in the mcpServers mapping is both its name and the agent ID.
type MCPServer struct {
	Name         string            `yaml:"-"`
	Active       bool              `yaml:"active"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Instructions string            `yaml:"instructions,omitempty"`
	Model        string            `yaml:"model,omitempty"`
	KeepWarm     bool              `yaml:"keep_warm,omitempty"`
	Temperature  *float64          `yaml:"temperature,omitempty"`
}

// MCPServers is the mcpServers mapping in document order.
type MCPServers []MCPServer

// UnmarshalYAML decodes the mapping while preserving key order. Entries whose
// name already exists (from an included file) are replaced in place.
func (s *MCPServers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: mcpServers must be a mapping of name to server", node.Line)
	}
	seen := make(map[string]int, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if line, dup := seen[key.Value]; dup {
			return fmt.Errorf("line %d: mcp server %q already defined at line %d", key.Line, key.Value, line)
		}
		seen[key.Value] = key.Line
		var srv MCPServer
		if err := val.Decode(&srv); err != nil {
			return fmt.Errorf("mcp server %q: %w", key.Value, err)
		}
		srv.Name = key.Value
		s.put(srv)
	}
	return nil
}

func (s *MCPServers) put(srv MCPServer) {
	for i := range *s {
		if (*s)[i].Name == srv.Name {
			(*s)[i] = srv
			return
		}
	}
	*s = append(*s, srv)
}

// Active returns the servers whose processes may be launched.
func (s MCPServers) Active() MCPServers {
	var out MCPServers
	for _, srv := range s {
		if srv.Active {
			out = append(out, srv)
		}
	}
	return out
}
