package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"ollama-mcp-agents/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// countingConn wraps a connection and counts closes.
type countingConn struct {
	domain.ToolProviderConn
	mu     sync.Mutex
	closes int
}

func (c *countingConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.ToolProviderConn.Close()
}

// spyLauncher counts launches and wraps every connection it hands out.
type spyLauncher struct {
	inner domain.ToolLauncher
	err   error

	mu    sync.Mutex
	conns []*countingConn
}

func (l *spyLauncher) Launch(ctx context.Context, spec domain.ToolSessionSpec) (domain.ToolProviderConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		l.conns = append(l.conns, nil)
		return nil, l.err
	}
	conn, err := l.inner.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	c := &countingConn{ToolProviderConn: conn}
	l.conns = append(l.conns, c)
	return c, nil
}

func (l *spyLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *spyLauncher) closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.conns {
		if c == nil {
			continue
		}
		c.mu.Lock()
		n += c.closes
		c.mu.Unlock()
	}
	return n
}

// stubLauncher serves a static tool list and echoes calls.
type stubLauncher struct{}

func (stubLauncher) Launch(context.Context, domain.ToolSessionSpec) (domain.ToolProviderConn, error) {
	return &stubConn{}, nil
}

type stubConn struct{}

func (*stubConn) ListTools(context.Context) ([]domain.ToolDescriptor, error) {
	return []domain.ToolDescriptor{{
		Name:       "echo",
		Parameters: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}}, nil
}

func (*stubConn) CallTool(_ context.Context, name string, args json.RawMessage) (*domain.ToolInvocationResult, error) {
	return &domain.ToolInvocationResult{Name: name, Content: string(args)}, nil
}

func (*stubConn) Close() error { return nil }

// funcBackend delegates Chat to a function and counts calls.
type funcBackend struct {
	mu    sync.Mutex
	n     int
	reply func(n int, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (b *funcBackend) Name() string { return "func" }

func (b *funcBackend) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	b.mu.Lock()
	n := b.n
	b.n++
	b.mu.Unlock()
	return b.reply(n, req)
}

func (b *funcBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func answer(text string) *domain.ChatResponse {
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: text}}
}

func callTool(name, args string) *domain.ChatResponse {
	return &domain.ChatResponse{Message: domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{Name: name, Arguments: json.RawMessage(args)}},
	}}
}

// memStore is an in-memory TranscriptStore.
type memStore struct {
	mu   sync.Mutex
	runs []domain.RunRecord
}

func (s *memStore) Save(_ context.Context, run domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]domain.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.runs) {
		limit = len(s.runs)
	}
	return append([]domain.RunRecord(nil), s.runs[len(s.runs)-limit:]...), nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == id {
			r := s.runs[i]
			return &r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}
