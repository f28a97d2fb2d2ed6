package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
)

func TestNewBackendKinds(t *testing.T) {
	cfg := config.Defaults().Backend
	cfg.CircuitBreaker.Enabled = false

	b, err := New(cfg, newTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &OllamaBackend{}, b)

	cfg.Kind = "openai"
	b, err = New(cfg, newTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIBackend{}, b)
}

func TestNewBackendWrapsBreaker(t *testing.T) {
	cfg := config.Defaults().Backend
	cfg.CircuitBreaker.Enabled = true

	b, err := New(cfg, newTestLogger())
	require.NoError(t, err)
	cb, ok := b.(*CircuitBreakerBackend)
	require.True(t, ok, "expected circuit breaker, got %T", b)
	assert.Equal(t, "ollama", cb.Name())
	assert.IsType(t, &OllamaBackend{}, cb.Unwrap())
}

func TestNewBackendUnknownKind(t *testing.T) {
	cfg := config.Defaults().Backend
	cfg.Kind = "llamafile"

	_, err := New(cfg, newTestLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
