package domain

import (
	"context"
	"encoding/json"
)

// ToolDescriptor describes one capability exposed by a tool-provider process.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolInvocationRequest is one call routed to a tool session.
type ToolInvocationRequest struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolInvocationResult is the textual outcome of a tool call.
type ToolInvocationResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolProviderConn is a live connection to a tool-provider process that has
// completed its initialize handshake.
type ToolProviderConn interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolInvocationResult, error)
	// Close terminates the process. It is called at most once per connection.
	Close() error
}

// ToolLauncher starts tool-provider processes.
type ToolLauncher interface {
	Launch(ctx context.Context, spec ToolSessionSpec) (ToolProviderConn, error)
}

// ToolDispatcher resolves tool calls requested by the model.
type ToolDispatcher interface {
	// Tools returns every capability the model may call, in a stable order.
	Tools() []ToolDescriptor
	Dispatch(ctx context.Context, req ToolInvocationRequest) (*ToolInvocationResult, error)
}
