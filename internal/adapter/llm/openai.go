package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

var _ domain.Backend = (*OpenAIBackend)(nil)

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 compatibility layer.
type OpenAIBackend struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIBackend creates a backend for the server at host. A host without
// a path gets "/v1" appended.
func NewOpenAIBackend(host, apiKey string, connTimeout, respTimeout time.Duration, logger *slog.Logger) (*OpenAIBackend, error) {
	base, err := openAIBaseURL(host)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = base
	cfg.HTTPClient = newHTTPClient(connTimeout, respTimeout)
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}, nil
}

func openAIBaseURL(host string) (string, error) {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid openai host %q: %w", host, err)
	}
	if u.Path == "" {
		u.Path = "/v1"
	}
	return u.String(), nil
}

// Name implements domain.Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Chat implements domain.Backend.
func (b *OpenAIBackend) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat", chatAttrs(b.Name(), req))
	defer span.End()

	resp, err := b.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		err = fmt.Errorf("openai chat: %w", err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("openai chat: %w", domain.ErrEmptyReply)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromOpenAIResponse(resp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(b.logger, b.Name(), result)
	return result, nil
}

// --- OpenAI conversions ---

// explicitFloat32 keeps a configured zero on the wire. go-openai omits zero
// sampling fields, so zero becomes the smallest positive float32.
func explicitFloat32(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func toOpenAIRequest(req domain.ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	if req.Temperature != nil {
		out.Temperature = explicitFloat32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = explicitFloat32(*req.TopP)
	}

	for _, m := range req.Messages {
		om := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.Role == domain.RoleTool {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out.Messages = append(out.Messages, om)
	}

	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) *domain.ChatResponse {
	choice := resp.Choices[0].Message
	msg := domain.Message{
		Role:    domain.RoleAssistant,
		Content: choice.Content,
	}
	if resp.Created > 0 {
		msg.Timestamp = time.Unix(resp.Created, 0)
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return &domain.ChatResponse{
		Model:   resp.Model,
		Message: msg,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}
