package llm

import (
	"fmt"
	"log/slog"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
)

// New builds the configured backend, wrapped in a circuit breaker when enabled.
func New(cfg config.BackendConfig, logger *slog.Logger) (domain.Backend, error) {
	var (
		backend domain.Backend
		err     error
	)
	switch cfg.Kind {
	case "", "ollama":
		backend, err = NewOllamaBackend(cfg.Host, cfg.ConnTimeout, cfg.Timeout, logger)
	case "openai":
		backend, err = NewOpenAIBackend(cfg.Host, cfg.APIKey, cfg.ConnTimeout, cfg.Timeout, logger)
	default:
		return nil, domain.NewDomainError("llm.New", domain.ErrConfiguration,
			fmt.Sprintf("unknown backend kind %q", cfg.Kind))
	}
	if err != nil {
		return nil, domain.WrapError("llm.New", domain.ErrConfiguration, err, cfg.Kind)
	}

	if cfg.CircuitBreaker.Enabled {
		backend = NewCircuitBreakerBackend(backend, cfg.CircuitBreaker, logger)
	}
	logger.Debug("llm backend ready", "kind", backend.Name(), "host", cfg.Host, "model", cfg.Model)
	return backend, nil
}
