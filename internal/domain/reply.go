package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the interpreted form of a model message: either a FinalAnswer or
// a ToolCallRequest.
type Reply interface {
	isReply()
}

// FinalAnswer ends the conversation.
type FinalAnswer struct {
	Text string
}

// ToolCallRequest asks for one or more tools to be run, in order.
type ToolCallRequest struct {
	Calls []ToolCall
	// Text is any content the model sent alongside the calls.
	Text string
}

func (FinalAnswer) isReply()     {}
func (ToolCallRequest) isReply() {}

// ParseReply validates a backend message and classifies it.
// Calls without an ID receive a positional one. Missing arguments become {}.
func ParseReply(msg Message) (Reply, error) {
	if len(msg.ToolCalls) == 0 {
		if strings.TrimSpace(msg.Content) == "" {
			return nil, ErrEmptyReply
		}
		return FinalAnswer{Text: msg.Content}, nil
	}

	calls := make([]ToolCall, len(msg.ToolCalls))
	for i, c := range msg.ToolCalls {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("tool call %d: missing function name", i)
		}
		args, err := normalizeArguments(c.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %d (%s): %w", i, name, err)
		}
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		calls[i] = ToolCall{ID: id, Name: name, Arguments: args}
	}
	return ToolCallRequest{Calls: calls, Text: msg.Content}, nil
}

func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	// Some backends send the arguments object as a JSON string.
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("arguments: %w", err)
		}
		return normalizeArguments(json.RawMessage(s))
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}
