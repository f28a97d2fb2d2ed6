package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRunStarted        EventType = "run.started"
	EventRunCompleted      EventType = "run.completed"
	EventRunFailed         EventType = "run.failed"
	EventLLMCallStarted    EventType = "llm.call.started"
	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
)

// Event is the envelope published while a task runs.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler receives published events.
type EventHandler func(ctx context.Context, event Event)

// EventPublisher publishes events. Implementations must not block for long.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// ToolCallPayload is the payload of tool.call.* events. Result and IsError
// are set on completion only.
type ToolCallPayload struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// LLMCallPayload is the payload of llm.call.* events.
type LLMCallPayload struct {
	Iteration int    `json:"iteration"`
	Model     string `json:"model"`
	ToolCalls int    `json:"tool_calls,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunPayload is the payload of run.* events.
type RunPayload struct {
	Task       string    `json:"task,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload. A payload that
// cannot be encoded is dropped.
func NewEvent(typ EventType, payload any) Event {
	e := Event{Type: typ, Timestamp: time.Now()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
