package domain

import "context"

// Backend is the interface for any language-model server.
type Backend interface {
	// Chat sends the transcript and tool list and returns the model's message.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the backend's identifier (e.g., "ollama").
	Name() string
}

// HealthChecker is implemented by backends that can report reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
