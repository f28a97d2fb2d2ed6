package toolprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"

	"ollama-mcp-agents/internal/domain"
)

// mcpClient is the subset of the mcp-go client used by a connection.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// conn adapts an initialized MCP client to domain.ToolProviderConn.
type conn struct {
	name   string
	client mcpClient
}

var _ domain.ToolProviderConn = (*conn)(nil)

func (c *conn) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("server %q listed a tool without a name", c.name)
		}
		params, err := inputSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %q input schema: %w", t.Name, err)
		}
		out = append(out, domain.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out, nil
}

func (c *conn) CallTool(ctx context.Context, name string, args json.RawMessage) (*domain.ToolInvocationResult, error) {
	var arguments map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	return &domain.ToolInvocationResult{
		Name:    name,
		Content: extractContent(result),
		IsError: result.IsError,
	}, nil
}

func (c *conn) Close() error {
	return c.client.Close()
}

// inputSchema returns the tool's JSON Schema, defaulting to an empty object schema.
func inputSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	if t.InputSchema.Type == "" && len(t.InputSchema.Properties) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	schema := t.InputSchema
	if schema.Type == "" {
		schema.Type = "object"
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// extractContent joins the text parts of a tool result. Non-text parts are
// rendered as JSON.
func extractContent(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// classify marks errors that mean the process is gone as domain.ErrSessionClosed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransportClosed(err) {
		return fmt.Errorf("%w: %v", domain.ErrSessionClosed, err)
	}
	return err
}

func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transport closed") ||
		strings.Contains(msg, "file already closed") ||
		strings.Contains(msg, "broken pipe")
}

// envSlice converts a map of env vars to KEY=VALUE pairs.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
