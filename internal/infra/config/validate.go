package config

import (
	"fmt"
	"net/url"
	"strings"

	"ollama-mcp-agents/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap makes every validation failure a configuration error.
func (v *ValidationError) Unwrap() error { return domain.ErrConfiguration }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBackend(cfg, ve)
	validateConversation(cfg, ve)
	validateObservability(cfg, ve)
	validateHistory(cfg, ve)
	validateServers(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validBackendKinds = map[string]bool{
	"ollama": true,
	"openai": true,
}

func validateBackend(cfg *Config, ve *ValidationError) {
	b := cfg.Backend
	if !validBackendKinds[b.Kind] {
		ve.Add("backend.kind %q is not supported (want ollama or openai)", b.Kind)
	}
	if b.Host == "" {
		ve.Add("backend.host is required")
	} else if u, err := url.Parse(b.Host); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("backend.host %q is not a valid URL", b.Host)
	}
	if b.Model == "" {
		ve.Add("backend.model is required")
	}
	if b.Temperature != nil && (*b.Temperature < 0 || *b.Temperature > 2) {
		ve.Add("backend.temperature must be between 0 and 2")
	}
	if b.TopP != nil && (*b.TopP <= 0 || *b.TopP > 1) {
		ve.Add("backend.top_p must be in (0, 1]")
	}
	if b.Timeout <= 0 {
		ve.Add("backend.timeout must be > 0")
	}
	if b.CircuitBreaker.Enabled && b.CircuitBreaker.Timeout < 0 {
		ve.Add("backend.circuit_breaker.timeout must be >= 0")
	}
}

func validateConversation(cfg *Config, ve *ValidationError) {
	c := cfg.Conversation
	if c.MaxIterations <= 0 {
		ve.Add("conversation.max_iterations must be > 0")
	}
	if c.ToolTimeout <= 0 {
		ve.Add("conversation.tool_timeout must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		ve.Add("conversation.handshake_timeout must be > 0")
	}
	if c.ToolRateLimit.PerMinute < 0 {
		ve.Add("conversation.tool_rate_limit.per_minute must be >= 0")
	}
	if c.ToolRateLimit.PerMinute > 0 && c.ToolRateLimit.Burst <= 0 {
		ve.Add("conversation.tool_rate_limit.burst must be > 0 when per_minute is set")
	}
}

var validExporters = map[string]bool{
	"":       true,
	"noop":   true,
	"stdout": true,
}

var validLogFormats = map[string]bool{
	"":     true,
	"text": true,
	"json": true,
}

func validateObservability(cfg *Config, ve *ValidationError) {
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is not supported (want text or json)", cfg.Logger.Format)
	}
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if cfg.History.Enabled && cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
}

func validateServers(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.MCPServers))
	for i, srv := range cfg.MCPServers {
		if strings.TrimSpace(srv.Name) == "" {
			ve.Add("mcpServers[%d]: name is required", i)
			continue
		}
		if seen[srv.Name] {
			ve.Add("mcpServers.%s: duplicate server name", srv.Name)
		}
		seen[srv.Name] = true
		if srv.Active && strings.TrimSpace(srv.Command) == "" {
			ve.Add("mcpServers.%s: command is required for an active server", srv.Name)
		}
		if srv.Temperature != nil && (*srv.Temperature < 0 || *srv.Temperature > 2) {
			ve.Add("mcpServers.%s: temperature must be between 0 and 2", srv.Name)
		}
	}
}
