package agents

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
	"ollama-mcp-agents/internal/usecase/capability"
	"ollama-mcp-agents/internal/usecase/conversation"
	"ollama-mcp-agents/internal/usecase/eventbus"
	"ollama-mcp-agents/internal/usecase/toolsession"
)

// RunnerDeps holds injected dependencies for the Runner.
type RunnerDeps struct {
	Agents        *Registry
	Sessions      *toolsession.Manager
	Backend       domain.Backend
	Store         domain.TranscriptStore // optional, nil = runs are not recorded
	Events        *eventbus.Bus          // optional, nil = no progress events
	Logger        *slog.Logger
	MaxIterations int
	ModelTimeout  time.Duration
	Temperature   *float64
	TopP          *float64
}

// Result is the outcome of one task.
type Result struct {
	RunID      string
	AgentID    string
	Answer     string
	Messages   []domain.Message
	Iterations int
}

// Runner executes tasks for registered agents and owns their sessions.
type Runner struct {
	deps RunnerDeps

	mu     sync.Mutex
	warm   map[string]*toolsession.Session
	users  map[*toolsession.Session]int // in-flight tasks per warm session
	closed bool
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	return &Runner{
		deps:  deps,
		warm:  make(map[string]*toolsession.Session),
		users: make(map[*toolsession.Session]int),
	}
}

// RunTask runs task on agentID and returns the final answer.
func (r *Runner) RunTask(ctx context.Context, agentID, task string) (string, error) {
	res, err := r.Run(ctx, agentID, task)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run is RunTask with the transcript. The Result is non-nil whenever the
// agent exists, including on failure.
func (r *Runner) Run(ctx context.Context, agentID, task string) (*Result, error) {
	const op = "Runner.Run"

	ctx, span := tracer.StartSpan(ctx, "agents.run_task",
		trace.WithAttributes(tracer.StringAttr("agent.id", agentID)),
	)
	defer span.End()

	agent, err := r.deps.Agents.Get(agentID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	started := time.Now()
	res := &Result{RunID: newRunID(), AgentID: agentID}
	logger := r.deps.Logger.With("agent_id", agentID, "run_id", res.RunID)
	events := r.publisher(res)
	r.publish(ctx, events, domain.EventRunStarted, domain.RunPayload{Task: task})

	session, tools, err := r.acquire(ctx, agent)
	if err != nil {
		r.record(ctx, agent, task, res, err, started)
		r.publish(ctx, events, domain.EventRunFailed, domain.RunPayload{ErrorCode: domain.ErrorCodeOf(err)})
		tracer.RecordError(span, err)
		return res, domain.WrapOp(op, err)
	}

	router := capability.NewRouter(logger)
	if session.Active() {
		router.Add(session.ID(), session, tools)
	}

	cfg := conversation.Config{
		Model:         agent.Model,
		Instructions:  agent.Instructions,
		Temperature:   r.deps.Temperature,
		TopP:          r.deps.TopP,
		MaxIterations: r.deps.MaxIterations,
		ModelTimeout:  r.deps.ModelTimeout,
		Events:        events,
	}
	if agent.Temperature != nil {
		cfg.Temperature = agent.Temperature
	}

	loop := conversation.New(r.deps.Backend, router, cfg, logger)
	answer, runErr := loop.Run(ctx, task)

	r.release(agent, session, runErr)

	res.Answer = answer
	res.Messages = loop.History()
	res.Iterations = loop.Iterations()
	r.record(ctx, agent, task, res, runErr, started)

	if runErr != nil {
		logger.Warn("task failed", "error", runErr, "code", domain.ErrorCodeOf(runErr), "state", loop.State().String(), "iterations", res.Iterations)
		r.publish(ctx, events, domain.EventRunFailed, domain.RunPayload{Iterations: res.Iterations, ErrorCode: domain.ErrorCodeOf(runErr)})
		tracer.RecordError(span, runErr)
		return res, domain.WrapOp(op, runErr)
	}

	logger.Info("task completed", "iterations", res.Iterations, "duration", time.Since(started))
	r.publish(ctx, events, domain.EventRunCompleted, domain.RunPayload{Iterations: res.Iterations})
	tracer.SetOK(span)
	return res, nil
}

// Tools lists the capabilities of agentID, starting its session if needed.
func (r *Runner) Tools(ctx context.Context, agentID string) ([]domain.ToolDescriptor, error) {
	agent, err := r.deps.Agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	session, tools, err := r.acquire(ctx, agent)
	if err != nil {
		return nil, err
	}
	r.release(agent, session, nil)
	return tools, nil
}

// Close shuts down every kept-warm session. The Runner refuses further work.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	warm := r.warm
	r.warm = make(map[string]*toolsession.Session)
	r.users = make(map[*toolsession.Session]int)
	r.mu.Unlock()

	var errs []error
	for id, s := range warm {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		r.deps.Logger.Debug("warm session closed", "agent_id", id)
	}
	return errors.Join(errs...)
}

// acquire returns a discovered session for agent: the cached one for a
// kept-warm agent, a fresh one otherwise. Failed sessions are closed.
func (r *Runner) acquire(ctx context.Context, agent domain.AgentDescriptor) (*toolsession.Session, []domain.ToolDescriptor, error) {
	spec := domain.ToolSessionSpec{Name: agent.ID}
	if agent.Session != nil {
		spec = *agent.Session
	}

	if !agent.KeepWarm || !spec.Active {
		if r.isClosed() {
			return nil, nil, r.closedErr()
		}
		return r.start(ctx, spec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, r.closedErr()
	}
	if s, ok := r.warm[agent.ID]; ok && !s.Closed() {
		r.users[s]++
		return s, s.Tools(), nil
	}
	delete(r.warm, agent.ID)

	s, tools, err := r.start(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	r.warm[agent.ID] = s
	r.users[s]++
	return s, tools, nil
}

func (r *Runner) start(ctx context.Context, spec domain.ToolSessionSpec) (*toolsession.Session, []domain.ToolDescriptor, error) {
	s, err := r.deps.Sessions.Start(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	tools, err := s.Discover(ctx)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, tools, nil
}

// release applies the session policy after a task. Use-once sessions always
// close. A warm session survives success and the iteration limit; any other
// failure takes it out of the cache so the next task starts clean. A session
// shared by concurrent tasks is closed only when its last user releases it.
func (r *Runner) release(agent domain.AgentDescriptor, s *toolsession.Session, runErr error) {
	r.mu.Lock()
	n, shared := r.users[s]
	if !shared {
		r.mu.Unlock()
		_ = s.Close()
		return
	}

	discard := (runErr != nil && !errors.Is(runErr, domain.ErrIterationLimit)) || s.Closed()
	discarded := false
	if discard && r.warm[agent.ID] == s {
		delete(r.warm, agent.ID)
		discarded = true
	}
	if n--; n > 0 {
		r.users[s] = n
	} else {
		delete(r.users, s)
	}
	closeNow := n == 0 && r.warm[agent.ID] != s
	r.mu.Unlock()

	if discarded {
		r.deps.Logger.Info("warm session discarded", "agent_id", agent.ID, "in_flight", n, "error", runErr)
	}
	if closeNow {
		_ = s.Close()
	}
}

func (r *Runner) record(ctx context.Context, agent domain.AgentDescriptor, task string, res *Result, runErr error, started time.Time) {
	if r.deps.Store == nil {
		return
	}
	rec := domain.RunRecord{
		ID:         res.RunID,
		AgentID:    agent.ID,
		Model:      agent.Model,
		Task:       task,
		Answer:     res.Answer,
		Status:     domain.RunStatusSucceeded,
		Messages:   res.Messages,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		rec.Status = domain.RunStatusFailed
		rec.ErrorCode = domain.ErrorCodeOf(runErr)
		rec.Error = runErr.Error()
	}
	// A canceled task is still recorded.
	if err := r.deps.Store.Save(context.WithoutCancel(ctx), rec); err != nil {
		r.deps.Logger.Warn("failed to record run", "run_id", rec.ID, "error", err)
	}
}

// publisher returns the event publisher for one run, or nil.
func (r *Runner) publisher(res *Result) domain.EventPublisher {
	if r.deps.Events == nil {
		return nil
	}
	return r.deps.Events.ForRun(res.RunID, res.AgentID)
}

func (r *Runner) publish(ctx context.Context, p domain.EventPublisher, typ domain.EventType, payload any) {
	if p == nil {
		return
	}
	p.Publish(context.WithoutCancel(ctx), domain.NewEvent(typ, payload))
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runner) closedErr() error {
	return domain.WrapError("Runner.acquire", domain.ErrSessionLaunch, domain.ErrSessionClosed, "runner closed")
}

func newRunID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
