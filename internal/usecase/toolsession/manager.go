// Package toolsession owns the lifecycle of tool-provider processes: launch,
// capability discovery, per-call invocation and shutdown.
package toolsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

// Config bounds the suspension points of a session.
type Config struct {
	ToolTimeout      time.Duration // per tools/call (default: 30s)
	HandshakeTimeout time.Duration // tools/list discovery (default: 30s)
	RatePerMinute    int           // 0 disables the limiter
	RateBurst        int           // default: 1
}

// Manager starts sessions through a ToolLauncher.
type Manager struct {
	launcher domain.ToolLauncher
	config   Config
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(launcher domain.ToolLauncher, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Manager{launcher: launcher, config: cfg, logger: logger}
}

// Start launches the process described by spec. An inactive spec yields a
// session with no tools and no process; it never fails.
func (m *Manager) Start(ctx context.Context, spec domain.ToolSessionSpec) (*Session, error) {
	const op = "Manager.Start"

	ctx, span := tracer.StartSpan(ctx, "toolsession.start",
		trace.WithAttributes(
			tracer.StringAttr("server.name", spec.Name),
			tracer.BoolAttr("server.active", spec.Active),
		),
	)
	defer span.End()

	s := &Session{
		id:               newID(),
		name:             spec.Name,
		toolTimeout:      m.config.ToolTimeout,
		handshakeTimeout: m.config.HandshakeTimeout,
	}
	s.logger = m.logger.With("session_id", s.id, "server", spec.Name)

	if !spec.Active {
		s.discovered = true
		s.byName = map[string]*toolEntry{}
		m.logger.Debug("inactive tool session, not launching", "server", spec.Name)
		tracer.SetOK(span)
		return s, nil
	}

	conn, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		derr := classifyCtx(ctx, op, domain.ErrSessionLaunch, err, spec.Name)
		tracer.RecordError(span, derr)
		m.logger.Warn("tool session launch failed", "server", spec.Name, "error", err)
		return nil, derr
	}
	s.conn = conn
	s.active = true
	if m.config.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(m.config.RatePerMinute)/60.0), m.config.RateBurst)
	}

	s.logger.Info("tool session started", "command", spec.Command)
	tracer.SetOK(span)
	return s, nil
}

// classifyCtx wraps err in kind, adding ErrCanceled or ErrTimeout when the
// context explains the failure.
func classifyCtx(ctx context.Context, op string, kind, err error, detail string) *domain.DomainError {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.WrapError(op, domain.ErrCanceled, fmt.Errorf("%v: %w", kind, ctx.Err()), detail)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.WrapError(op, kind, fmt.Errorf("%w: %w", domain.ErrTimeout, err), detail)
	default:
		return domain.WrapError(op, kind, err, detail)
	}
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
