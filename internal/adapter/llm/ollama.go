package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

var (
	_ domain.Backend       = (*OllamaBackend)(nil)
	_ domain.HealthChecker = (*OllamaBackend)(nil)
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaBackend talks to a local Ollama server through its native /api/chat
// endpoint, non-streaming.
type OllamaBackend struct {
	client *ollama.Client
	host   string
	logger *slog.Logger
}

// OllamaModel describes a locally available model.
type OllamaModel struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// NewOllamaBackend creates a backend for the server at host.
func NewOllamaBackend(host string, connTimeout, respTimeout time.Duration, logger *slog.Logger) (*OllamaBackend, error) {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &OllamaBackend{
		client: ollama.NewClient(u, newHTTPClient(connTimeout, respTimeout)),
		host:   host,
		logger: logger,
	}, nil
}

// Name implements domain.Backend.
func (b *OllamaBackend) Name() string { return "ollama" }

// Chat implements domain.Backend.
func (b *OllamaBackend) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat", chatAttrs(b.Name(), req))
	defer span.End()

	oreq, err := toOllamaRequest(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var last ollama.ChatResponse
	var content strings.Builder
	var calls []ollama.ToolCall
	err = b.client.Chat(ctx, oreq, func(r ollama.ChatResponse) error {
		content.WriteString(r.Message.Content)
		calls = append(calls, r.Message.ToolCalls...)
		last = r
		return nil
	})
	if err != nil {
		err = fmt.Errorf("ollama chat: %w", err)
		tracer.RecordError(span, err)
		return nil, err
	}

	last.Message.Content = content.String()
	last.Message.ToolCalls = calls
	result, err := fromOllamaResponse(last)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(b.logger, b.Name(), result)
	return result, nil
}

// Ping implements domain.HealthChecker.
func (b *OllamaBackend) Ping(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama at %s unreachable: %w", b.host, err)
	}
	return nil
}

// ListModels returns the models available on the server.
func (b *OllamaBackend) ListModels(ctx context.Context) ([]OllamaModel, error) {
	resp, err := b.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]OllamaModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, OllamaModel{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}

// --- Ollama conversions ---

// The tool-related ollama types change shape between releases, so they are
// built from and read back through their JSON form.

type ollamaWireCall struct {
	Function struct {
		Index     int             `json:"index"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

func toOllamaRequest(req domain.ChatRequest) (*ollama.ChatRequest, error) {
	stream := false
	out := &ollama.ChatRequest{
		Model:    req.Model,
		Stream:   &stream,
		Messages: make([]ollama.Message, 0, len(req.Messages)),
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if len(options) > 0 {
		out.Options = options
	}

	for _, m := range req.Messages {
		om := ollama.Message{Role: m.Role, Content: m.Content}
		if m.Role == domain.RoleTool {
			om.ToolName = m.ToolName
		}
		if len(m.ToolCalls) > 0 {
			calls, err := toOllamaToolCalls(m.ToolCalls)
			if err != nil {
				return nil, err
			}
			om.ToolCalls = calls
		}
		out.Messages = append(out.Messages, om)
	}

	if len(req.Tools) > 0 {
		wire := make([]ollamaWireTool, len(req.Tools))
		for i, t := range req.Tools {
			wire[i].Type = "function"
			wire[i].Function.Name = t.Name
			wire[i].Function.Description = t.Description
			wire[i].Function.Parameters = t.Parameters
			if len(wire[i].Function.Parameters) == 0 {
				wire[i].Function.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
			}
		}
		if err := convertJSON(wire, &out.Tools); err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
	}
	return out, nil
}

func toOllamaToolCalls(calls []domain.ToolCall) ([]ollama.ToolCall, error) {
	wire := make([]ollamaWireCall, len(calls))
	for i, c := range calls {
		wire[i].Function.Index = i
		wire[i].Function.Name = c.Name
		wire[i].Function.Arguments = c.Arguments
		if len(wire[i].Function.Arguments) == 0 {
			wire[i].Function.Arguments = json.RawMessage(`{}`)
		}
	}
	var out []ollama.ToolCall
	if err := convertJSON(wire, &out); err != nil {
		return nil, fmt.Errorf("convert tool calls: %w", err)
	}
	return out, nil
}

func fromOllamaResponse(resp ollama.ChatResponse) (*domain.ChatResponse, error) {
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.Message.Content,
		Timestamp: resp.CreatedAt,
	}
	if len(resp.Message.ToolCalls) > 0 {
		var wire []ollamaWireCall
		if err := convertJSON(resp.Message.ToolCalls, &wire); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		for _, c := range wire {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			})
		}
	}
	return &domain.ChatResponse{
		Model:   resp.Model,
		Message: msg,
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func convertJSON(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
