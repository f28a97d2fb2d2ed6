package toolprovider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/tracer"
)

// BuiltinPrefix selects an in-process server instead of a subprocess,
// e.g. command "builtin:calculator".
const BuiltinPrefix = "builtin:"

const (
	clientName              = "ollama-mcp-agents"
	clientVersion           = "1.0.0"
	defaultHandshakeTimeout = 30 * time.Second
)

// Launcher starts MCP tool-provider processes over stdio and performs the
// initialize handshake.
type Launcher struct {
	handshakeTimeout time.Duration
	builtins         map[string]*server.MCPServer
	newStdio         func(command string, env []string, args ...string) (mcpClient, error)
	logger           *slog.Logger
}

var _ domain.ToolLauncher = (*Launcher)(nil)

// Option configures a Launcher.
type Option func(*Launcher)

// WithBuiltin registers an in-process server reachable as BuiltinPrefix+name.
func WithBuiltin(name string, srv *server.MCPServer) Option {
	return func(l *Launcher) { l.builtins[name] = srv }
}

// WithHandshakeTimeout bounds the initialize handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.handshakeTimeout = d
		}
	}
}

// NewLauncher creates a Launcher.
func NewLauncher(logger *slog.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		handshakeTimeout: defaultHandshakeTimeout,
		builtins:         make(map[string]*server.MCPServer),
		newStdio: func(command string, env []string, args ...string) (mcpClient, error) {
			return mcpclient.NewStdioMCPClient(command, env, args...)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts the process described by spec and completes the initialize
// handshake. The returned connection owns the process.
func (l *Launcher) Launch(ctx context.Context, spec domain.ToolSessionSpec) (domain.ToolProviderConn, error) {
	ctx, span := tracer.StartSpan(ctx, "toolprovider.launch",
		trace.WithAttributes(
			tracer.StringAttr("server.name", spec.Name),
			tracer.StringAttr("server.command", spec.Command),
		),
	)
	defer span.End()

	c, err := l.start(ctx, spec)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	res, err := c.Initialize(initCtx, req)
	if err != nil {
		if closeErr := c.Close(); closeErr != nil {
			l.logger.Debug("close after failed initialize", "server", spec.Name, "error", closeErr)
		}
		err = fmt.Errorf("initialize: %w", err)
		tracer.RecordError(span, err)
		return nil, err
	}

	l.logger.Info("mcp server connected",
		"server", spec.Name,
		"command", spec.Command,
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
	)
	tracer.SetOK(span)
	return &conn{name: spec.Name, client: c}, nil
}

func (l *Launcher) start(ctx context.Context, spec domain.ToolSessionSpec) (mcpClient, error) {
	if name, ok := strings.CutPrefix(spec.Command, BuiltinPrefix); ok {
		srv, ok := l.builtins[name]
		if !ok {
			return nil, fmt.Errorf("unknown builtin server %q", name)
		}
		c, err := mcpclient.NewInProcessClient(srv)
		if err != nil {
			return nil, fmt.Errorf("create in-process client: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start in-process client: %w", err)
		}
		return c, nil
	}

	c, err := l.newStdio(spec.Command, envSlice(spec.Env), spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	return c, nil
}
