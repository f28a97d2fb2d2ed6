package toolsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"ollama-mcp-agents/internal/domain"
)

// spyLauncher records launches and hands out a preset connection.
type spyLauncher struct {
	mu       sync.Mutex
	launches []domain.ToolSessionSpec
	conn     domain.ToolProviderConn
	err      error
}

func (l *spyLauncher) Launch(_ context.Context, spec domain.ToolSessionSpec) (domain.ToolProviderConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, spec)
	if l.err != nil {
		return nil, l.err
	}
	return l.conn, nil
}

func (l *spyLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

// fakeConn is a scripted tool-provider connection.
type fakeConn struct {
	mu       sync.Mutex
	tools    []domain.ToolDescriptor
	listErr  error
	listFunc func(ctx context.Context) ([]domain.ToolDescriptor, error)
	callFunc func(ctx context.Context, name string, args json.RawMessage) (*domain.ToolInvocationResult, error)
	lists    int
	calls    []string
	closes   int
}

func (c *fakeConn) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	c.mu.Lock()
	c.lists++
	fn := c.listFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.tools, nil
}

func (c *fakeConn) CallTool(ctx context.Context, name string, args json.RawMessage) (*domain.ToolInvocationResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	fn := c.callFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, args)
	}
	return &domain.ToolInvocationResult{Name: name, Content: "ok:" + string(args)}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

var numberSchema = json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`)

func calcTools() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{Name: "add", Description: "Add two numbers", Parameters: numberSchema},
		{Name: "multiply", Description: "Multiply two numbers", Parameters: numberSchema},
	}
}

func activeSpec() domain.ToolSessionSpec {
	return domain.ToolSessionSpec{Name: "calculator", Command: "calculator-mcp", Active: true}
}
