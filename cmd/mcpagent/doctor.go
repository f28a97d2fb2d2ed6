package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ollama-mcp-agents/internal/adapter/console"
	"ollama-mcp-agents/internal/adapter/llm"
	"ollama-mcp-agents/internal/adapter/toolprovider"
	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
	"ollama-mcp-agents/internal/infra/logger"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  console.CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const doctorProbeTimeout = 10 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor(opts cliOptions) error {
	cfgPath := configPath(opts)

	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	var backend domain.Backend
	if cfg != nil {
		backend, _ = llm.New(cfg.Backend, logger.Discard())
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Backend", Fn: checkBackend(backend)},
		{Name: "Model", Fn: checkModel(backend)},
		{Name: "MCP servers", Fn: checkServerCommands(exec.LookPath)},
		{Name: "History", Fn: checkHistory},
	}

	out := newPrinter(opts)
	fmt.Println(console.Title.Render("mcpagent doctor"))
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		out.Check(result.Status, result.Name, result.Message, result.Fix)

		switch result.Status {
		case console.StatusPass:
			pass++
		case console.StatusWarn:
			warn++
		case console.StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// checkConfigFile reports whether the config file exists and parses.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  console.StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  console.StatusWarn,
				Message: fmt.Sprintf("%s not found; using defaults with no tool servers", cfgPath),
				Fix:     "Create mcp_servers.yaml with an mcpServers section",
			}
		}
		return CheckResult{
			Status:  console.StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkBackend pings the configured backend.
func checkBackend(backend domain.Backend) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil || backend == nil {
			return CheckResult{
				Status:  console.StatusFail,
				Message: "cannot check: backend not configured",
			}
		}
		hc, ok := backend.(domain.HealthChecker)
		if !ok {
			return CheckResult{
				Status:  console.StatusWarn,
				Message: fmt.Sprintf("%s backend has no health check", backend.Name()),
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), doctorProbeTimeout)
		defer cancel()
		start := time.Now()
		if err := hc.Ping(ctx); err != nil {
			return CheckResult{
				Status:  console.StatusFail,
				Message: fmt.Sprintf("cannot reach %s: %v", cfg.Backend.Host, err),
				Fix:     "Start the server with 'ollama serve' or set backend.host / OLLAMA_HOST",
			}
		}
		return CheckResult{
			Status:  console.StatusPass,
			Message: fmt.Sprintf("%s reachable at %s (latency: %dms)", backend.Name(), cfg.Backend.Host, time.Since(start).Milliseconds()),
		}
	}
}

// modelLister is implemented by backends that can enumerate local models.
type modelLister interface {
	ListModels(ctx context.Context) ([]llm.OllamaModel, error)
}

// checkModel verifies that the default and per-agent models are pulled.
func checkModel(backend domain.Backend) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil || backend == nil {
			return CheckResult{Status: console.StatusWarn, Message: "cannot check: backend not configured"}
		}
		lister, ok := unwrapBackend(backend).(modelLister)
		if !ok {
			return CheckResult{
				Status:  console.StatusPass,
				Message: fmt.Sprintf("model %s (not verified for %s backend)", cfg.Backend.Model, backend.Name()),
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), doctorProbeTimeout)
		defer cancel()
		models, err := lister.ListModels(ctx)
		if err != nil {
			return CheckResult{
				Status:  console.StatusWarn,
				Message: fmt.Sprintf("cannot list models: %v", err),
			}
		}

		var missing []string
		for _, want := range wantedModels(cfg) {
			if !hasModel(models, want) {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			return CheckResult{
				Status:  console.StatusFail,
				Message: fmt.Sprintf("model(s) not pulled: %s", strings.Join(missing, ", ")),
				Fix:     fmt.Sprintf("Run 'ollama pull %s'", missing[0]),
			}
		}
		return CheckResult{
			Status:  console.StatusPass,
			Message: fmt.Sprintf("%d model(s) available", len(models)),
		}
	}
}

// unwrapBackend strips decorators such as the circuit breaker.
func unwrapBackend(b domain.Backend) domain.Backend {
	for {
		u, ok := b.(interface{ Unwrap() domain.Backend })
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}

// wantedModels lists the default model plus per-server overrides of active
// servers, without duplicates.
func wantedModels(cfg *config.Config) []string {
	seen := map[string]bool{}
	var out []string
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	add(cfg.Backend.Model)
	for _, srv := range cfg.MCPServers.Active() {
		add(srv.Model)
	}
	return out
}

// hasModel matches "llama3.2" against "llama3.2:latest".
func hasModel(models []llm.OllamaModel, name string) bool {
	for _, m := range models {
		if m.Name == name || strings.TrimSuffix(m.Name, ":latest") == name {
			return true
		}
	}
	return false
}

// checkServerCommands verifies that every active server command is on PATH.
func checkServerCommands(lookPath func(string) (string, error)) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: console.StatusWarn, Message: "cannot check: config not loaded"}
		}

		var found, missing []string
		active := cfg.MCPServers.Active()
		inactive := len(cfg.MCPServers) - len(active)
		for _, srv := range active {
			if strings.HasPrefix(srv.Command, toolprovider.BuiltinPrefix) {
				found = append(found, srv.Name)
				continue
			}
			if _, err := lookPath(srv.Command); err != nil {
				missing = append(missing, fmt.Sprintf("%s (%s)", srv.Name, srv.Command))
				continue
			}
			found = append(found, srv.Name)
		}

		switch {
		case len(missing) > 0:
			return CheckResult{
				Status:  console.StatusFail,
				Message: fmt.Sprintf("command not found for: %s", strings.Join(missing, ", ")),
				Fix:     "Install the server (e.g. 'pip install uv' for uvx) or fix the command path",
			}
		case len(found) == 0:
			return CheckResult{
				Status:  console.StatusWarn,
				Message: fmt.Sprintf("no active servers (%d inactive); agents will answer without tools", inactive),
			}
		}
		msg := fmt.Sprintf("%d active: %s", len(found), strings.Join(found, ", "))
		if inactive > 0 {
			msg += fmt.Sprintf(" (%d inactive)", inactive)
		}
		return CheckResult{Status: console.StatusPass, Message: msg}
	}
}

// checkHistory verifies the transcript directory is writable when history
// is enabled.
func checkHistory(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: console.StatusWarn, Message: "cannot check: config not loaded"}
	}
	if !cfg.History.Enabled {
		return CheckResult{Status: console.StatusPass, Message: "history disabled"}
	}

	dir, _ := filepath.Abs(filepath.Dir(cfg.History.Path))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  console.StatusFail,
			Message: fmt.Sprintf("history directory %s cannot be created: %v", dir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", dir),
		}
	}
	probe := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  console.StatusFail,
			Message: fmt.Sprintf("history directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	_ = os.Remove(probe)

	return CheckResult{
		Status:  console.StatusPass,
		Message: fmt.Sprintf("recording runs to %s", cfg.History.Path),
	}
}
