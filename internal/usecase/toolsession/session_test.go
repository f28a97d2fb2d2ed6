package toolsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ollama-mcp-agents/internal/domain"
)

func startSession(t *testing.T, conn *fakeConn, cfg Config) *Session {
	t.Helper()
	m := NewManager(&spyLauncher{conn: conn}, cfg, testLogger())
	s, err := m.Start(context.Background(), activeSpec())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func discovered(t *testing.T, conn *fakeConn, cfg Config) *Session {
	t.Helper()
	s := startSession(t, conn, cfg)
	if _, err := s.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	return s
}

func TestStartInactiveNeverLaunches(t *testing.T) {
	spy := &spyLauncher{conn: &fakeConn{}}
	m := NewManager(spy, Config{}, testLogger())

	s, err := m.Start(context.Background(), domain.ToolSessionSpec{Name: "search", Command: "search-mcp", Active: false})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if spy.count() != 0 {
		t.Errorf("launches = %d, want 0", spy.count())
	}
	if s.Active() {
		t.Error("Active() = true for inactive spec")
	}

	tools, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("tools = %d, want 0", len(tools))
	}

	_, err = s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "search"})
	if !errors.Is(err, domain.ErrInvocation) || !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("Invoke err = %v, want ErrInvocation + ErrToolNotFound", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestStartLaunchFailure(t *testing.T) {
	spy := &spyLauncher{err: errors.New("exec: \"nope\": executable file not found in $PATH")}
	m := NewManager(spy, Config{}, testLogger())

	_, err := m.Start(context.Background(), activeSpec())
	if !errors.Is(err, domain.ErrSessionLaunch) {
		t.Fatalf("err = %v, want ErrSessionLaunch", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeToolUnavailable {
		t.Errorf("code = %s, want %s", code, domain.CodeToolUnavailable)
	}
	if !strings.Contains(err.Error(), "executable file not found") {
		t.Errorf("err = %q, want cause text", err.Error())
	}
}

func TestStartCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spy := &spyLauncher{err: context.Canceled}
	m := NewManager(spy, Config{}, testLogger())

	_, err := m.Start(ctx, activeSpec())
	if !errors.Is(err, domain.ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
}

func TestSessionIDsUnique(t *testing.T) {
	m := NewManager(&spyLauncher{conn: &fakeConn{}}, Config{}, testLogger())
	a, _ := m.Start(context.Background(), activeSpec())
	b, _ := m.Start(context.Background(), activeSpec())
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids = %q, %q", a.ID(), b.ID())
	}
}

func TestDiscoverCachesResult(t *testing.T) {
	conn := &fakeConn{tools: calcTools()}
	s := startSession(t, conn, Config{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Discover(context.Background()); err != nil {
				t.Errorf("Discover: %v", err)
			}
		}()
	}
	wg.Wait()

	tools, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if conn.lists != 1 {
		t.Errorf("tools/list calls = %d, want 1", conn.lists)
	}
	if len(tools) != 2 || tools[0].Name != "add" || tools[1].Name != "multiply" {
		t.Errorf("tools = %+v", tools)
	}

	tools[0].Name = "mutated"
	if s.Tools()[0].Name != "add" {
		t.Error("Discover returned the internal slice")
	}
}

func TestDiscoverFailure(t *testing.T) {
	conn := &fakeConn{listErr: errors.New("malformed response")}
	s := startSession(t, conn, Config{})

	_, err := s.Discover(context.Background())
	if !errors.Is(err, domain.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeToolHandshake {
		t.Errorf("code = %s", code)
	}
}

func TestDiscoverTimeout(t *testing.T) {
	conn := &fakeConn{listFunc: func(ctx context.Context) ([]domain.ToolDescriptor, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := startSession(t, conn, Config{HandshakeTimeout: 20 * time.Millisecond})

	_, err := s.Discover(context.Background())
	if !errors.Is(err, domain.ErrHandshake) || !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrHandshake + ErrTimeout", err)
	}
}

func TestDiscoverDuplicateToolName(t *testing.T) {
	conn := &fakeConn{tools: []domain.ToolDescriptor{{Name: "add"}, {Name: "add"}}}
	s := startSession(t, conn, Config{})

	_, err := s.Discover(context.Background())
	if !errors.Is(err, domain.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
}

func TestInvokeUnknownToolNeverReachesProcess(t *testing.T) {
	conn := &fakeConn{tools: calcTools()}
	s := discovered(t, conn, Config{})

	_, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{CallID: "c1", Name: "sqrt", Arguments: json.RawMessage(`{"a":4}`)})
	if !errors.Is(err, domain.ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
	if conn.callCount() != 0 {
		t.Errorf("process calls = %d, want 0", conn.callCount())
	}
}

func TestInvokeInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"wrong type", `{"a":"eight","b":12}`},
		{"missing required", `{"a":8}`},
		{"not an object", `[8,12]`},
		{"not json", `{a:8}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{tools: calcTools()}
			s := discovered(t, conn, Config{})

			_, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "multiply", Arguments: json.RawMessage(tt.args)})
			if !errors.Is(err, domain.ErrInvocation) || !errors.Is(err, domain.ErrInvalidArguments) {
				t.Fatalf("err = %v, want ErrInvocation + ErrInvalidArguments", err)
			}
			if conn.callCount() != 0 {
				t.Errorf("process calls = %d, want 0", conn.callCount())
			}
		})
	}
}

func TestInvokeSuccess(t *testing.T) {
	conn := &fakeConn{
		tools: calcTools(),
		callFunc: func(_ context.Context, name string, _ json.RawMessage) (*domain.ToolInvocationResult, error) {
			return &domain.ToolInvocationResult{Name: name, Content: "96"}, nil
		},
	}
	s := discovered(t, conn, Config{})

	res, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{CallID: "call_0", Name: "multiply", Arguments: json.RawMessage(`{"a":8,"b":12}`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "96" || res.CallID != "call_0" || res.Name != "multiply" {
		t.Errorf("result = %+v", res)
	}
}

func TestInvokeEmptyArgumentsBecomeObject(t *testing.T) {
	var got string
	conn := &fakeConn{
		tools: []domain.ToolDescriptor{{Name: "now", Parameters: json.RawMessage(`{"type":"object","properties":{}}`)}},
		callFunc: func(_ context.Context, name string, args json.RawMessage) (*domain.ToolInvocationResult, error) {
			got = string(args)
			return &domain.ToolInvocationResult{Name: name, Content: "12:00"}, nil
		},
	}
	s := discovered(t, conn, Config{})

	if _, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "now"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "{}" {
		t.Errorf("arguments = %q, want {}", got)
	}
}

func TestInvokeToolErrorResult(t *testing.T) {
	conn := &fakeConn{
		tools: calcTools(),
		callFunc: func(_ context.Context, name string, _ json.RawMessage) (*domain.ToolInvocationResult, error) {
			return &domain.ToolInvocationResult{Name: name, Content: "division by zero", IsError: true}, nil
		},
	}
	s := discovered(t, conn, Config{})

	_, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":0}`)})
	if !errors.Is(err, domain.ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
	if !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("err = %q, want tool text", err.Error())
	}
}

func TestInvokeTimeout(t *testing.T) {
	conn := &fakeConn{
		tools: calcTools(),
		callFunc: func(ctx context.Context, _ string, _ json.RawMessage) (*domain.ToolInvocationResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := discovered(t, conn, Config{ToolTimeout: 20 * time.Millisecond})

	_, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":2}`)})
	if !errors.Is(err, domain.ErrInvocation) || !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrInvocation + ErrTimeout", err)
	}
	if s.Closed() {
		t.Error("timeout should not close the session")
	}
}

func TestInvokeTransportClosedClosesSession(t *testing.T) {
	conn := &fakeConn{
		tools: calcTools(),
		callFunc: func(context.Context, string, json.RawMessage) (*domain.ToolInvocationResult, error) {
			return nil, fmt.Errorf("%w: broken pipe", domain.ErrSessionClosed)
		},
	}
	s := discovered(t, conn, Config{})
	req := domain.ToolInvocationRequest{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":2}`)}

	_, err := s.Invoke(context.Background(), req)
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if !s.Closed() {
		t.Fatal("session still live after transport failure")
	}

	_, err = s.Invoke(context.Background(), req)
	if !errors.Is(err, domain.ErrInvocation) || !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("second Invoke err = %v", err)
	}
	if conn.callCount() != 1 {
		t.Errorf("process calls = %d, want 1", conn.callCount())
	}
	if conn.closeCount() != 1 {
		t.Errorf("closes = %d, want 1", conn.closeCount())
	}
}

func TestCloseIdempotent(t *testing.T) {
	conn := &fakeConn{tools: calcTools()}
	s := discovered(t, conn, Config{})

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if conn.closeCount() != 1 {
		t.Errorf("process closes = %d, want 1", conn.closeCount())
	}

	_, err := s.Invoke(context.Background(), domain.ToolInvocationRequest{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":2}`)})
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Invoke after Close err = %v, want ErrSessionClosed", err)
	}
	if conn.callCount() != 0 {
		t.Errorf("process calls = %d, want 0", conn.callCount())
	}
}

func TestCloseBeforeDiscover(t *testing.T) {
	conn := &fakeConn{tools: calcTools()}
	s := startSession(t, conn, Config{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Discover(context.Background()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Discover after Close err = %v", err)
	}
	if conn.lists != 0 {
		t.Errorf("tools/list calls = %d, want 0", conn.lists)
	}
}

func TestInvokeRateLimited(t *testing.T) {
	conn := &fakeConn{tools: calcTools()}
	s := discovered(t, conn, Config{RatePerMinute: 1, RateBurst: 1})
	req := domain.ToolInvocationRequest{Name: "add", Arguments: json.RawMessage(`{"a":1,"b":2}`)}

	if _, err := s.Invoke(context.Background(), req); err != nil {
		t.Fatalf("first Invoke: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Invoke(ctx, req)
	if !errors.Is(err, domain.ErrInvocation) {
		t.Fatalf("err = %v, want ErrInvocation", err)
	}
	if conn.callCount() != 1 {
		t.Errorf("process calls = %d, want 1", conn.callCount())
	}
}
