package llm

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

// Default connection pool settings: one host, few concurrent agents,
// long-lived connections.
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default backend timeouts: short connect (usually local), long response
// (the first call may load the model).
const (
	defaultConnTimeout = 5 * time.Second
	defaultRespTimeout = 300 * time.Second
)

// newHTTPClient creates an *http.Client with a pooled transport. The
// overall request deadline comes from the caller's context.
func newHTTPClient(connTimeout, respTimeout time.Duration) *http.Client {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: respTimeout,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// logChatCompleted logs the standard debug message after a successful chat.
func logChatCompleted(logger *slog.Logger, backend string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"backend", backend,
		"model", result.Model,
		"tool_calls", len(result.Message.ToolCalls),
		"tokens", result.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// chatAttrs returns the attributes of an llm.chat span.
func chatAttrs(backend string, req domain.ChatRequest) trace.SpanStartOption {
	return trace.WithAttributes(
		tracer.StringAttr("llm.backend", backend),
		tracer.StringAttr("llm.model", req.Model),
		tracer.IntAttr("llm.messages", len(req.Messages)),
		tracer.IntAttr("llm.tools", len(req.Tools)),
	)
}
