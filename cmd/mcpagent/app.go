package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"ollama-mcp-agents/internal/adapter/console"
	"ollama-mcp-agents/internal/adapter/llm"
	"ollama-mcp-agents/internal/adapter/toolprovider"
	"ollama-mcp-agents/internal/adapter/toolprovider/calculator"
	"ollama-mcp-agents/internal/adapter/transcript"
	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
	"ollama-mcp-agents/internal/infra/logger"
	"ollama-mcp-agents/internal/infra/tracer"
	"ollama-mcp-agents/internal/usecase/agents"
	"ollama-mcp-agents/internal/usecase/eventbus"
	"ollama-mcp-agents/internal/usecase/toolsession"
)

// app holds the wired components of one CLI invocation.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	agents  *agents.Registry
	backend domain.Backend
	store   *transcript.SQLiteStore // nil when history is disabled
	runner  *agents.Runner
	events  *eventbus.Bus
	out     *console.Printer

	cleanup []func()
}

// appOptions adjusts wiring per command.
type appOptions struct {
	// keepWarm forces every agent to keep its session across tasks.
	keepWarm bool
	// withStore opens the transcript store even when history is disabled.
	withStore bool
}

// newApp loads config and wires logger, tracer, backend, tool sessions,
// agents and the runner. Close releases everything in reverse order.
func newApp(ctx context.Context, opts cliOptions, ao appOptions) (*app, error) {
	// 1. Config
	cfg, err := config.Load(configPath(opts))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{cfg: cfg, out: newPrinter(opts)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.defer_(func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.defer_(func() { _ = tracerShutdown(context.Background()) })

	// 3. Backend
	a.backend, err = llm.New(cfg.Backend, logger.Component(log, "llm"))
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	// 4. Agents
	defs := agents.FromConfig(cfg)
	if ao.keepWarm {
		for i := range defs {
			defs[i].KeepWarm = true
		}
	}
	a.agents, err = agents.NewRegistry(defs, cfg.Backend.Model, logger.Component(log, "agents"))
	if err != nil {
		return nil, err
	}

	// 5. Transcript store
	if cfg.History.Enabled || ao.withStore {
		a.store, err = transcript.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		store := a.store
		a.defer_(func() { _ = store.Close() })
	}

	// 6. Events
	a.events = eventbus.New(logger.Component(log, "eventbus"))
	a.defer_(a.events.Close)
	if opts.Verbose {
		a.events.SubscribeAll(func(_ context.Context, e domain.Event) { a.out.Progress(e) })
	}

	// 7. Tool sessions & runner
	launcher := toolprovider.NewLauncher(logger.Component(log, "toolprovider"),
		toolprovider.WithBuiltin(calculator.Name, calculator.NewServer()),
		toolprovider.WithHandshakeTimeout(cfg.Conversation.HandshakeTimeout),
	)
	sessions := toolsession.NewManager(launcher, toolsession.Config{
		ToolTimeout:      cfg.Conversation.ToolTimeout,
		HandshakeTimeout: cfg.Conversation.HandshakeTimeout,
		RatePerMinute:    cfg.Conversation.ToolRateLimit.PerMinute,
		RateBurst:        cfg.Conversation.ToolRateLimit.Burst,
	}, logger.Component(log, "toolsession"))

	deps := agents.RunnerDeps{
		Agents:        a.agents,
		Sessions:      sessions,
		Backend:       a.backend,
		Events:        a.events,
		Logger:        logger.Component(log, "runner"),
		MaxIterations: cfg.Conversation.MaxIterations,
		ModelTimeout:  cfg.Backend.Timeout,
		Temperature:   cfg.Backend.Temperature,
		TopP:          cfg.Backend.TopP,
	}
	if cfg.History.Enabled && a.store != nil {
		deps.Store = a.store
	}
	a.runner = agents.NewRunner(deps)
	a.defer_(func() {
		if err := a.runner.Close(); err != nil {
			log.Warn("closing tool sessions", "error", err)
		}
	})

	log.Debug("mcpagent ready",
		"backend", a.backend.Name(),
		"model", cfg.Backend.Model,
		"agents", len(a.agents.IDs()),
		"history", deps.Store != nil,
	)
	ok = true
	return a, nil
}

func (a *app) defer_(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// Close runs cleanups in reverse registration order.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// resolveAgent picks the agent named in args[0], or the only agent when
// exactly one is configured.
func (a *app) resolveAgent(args []string) (string, []string, error) {
	if len(args) > 0 {
		if _, err := a.agents.Get(args[0]); err == nil {
			return args[0], args[1:], nil
		} else if len(a.agents.IDs()) != 1 {
			return "", nil, err
		}
	}
	ids := a.agents.IDs()
	if len(ids) == 1 {
		return ids[0], args, nil
	}
	return "", nil, domain.NewDomainError("resolveAgent", domain.ErrAgentNotFound,
		fmt.Sprintf("choose one of %v", ids))
}

func newPrinter(opts cliOptions) *console.Printer {
	var po []console.PrinterOption
	if opts.Plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		po = append(po, console.WithPlain())
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < console.MaxContentWidth {
		po = append(po, console.WithWidth(w))
	}
	return console.NewPrinter(os.Stdout, po...)
}

// isCanceled reports whether err came from the user interrupting.
func isCanceled(err error) bool {
	return errors.Is(err, domain.ErrCanceled) || errors.Is(err, context.Canceled)
}
