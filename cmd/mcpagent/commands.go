package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"ollama-mcp-agents/internal/adapter/console"
	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runTask runs one task and prints the answer.
func runTask(opts cliOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, opts, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	agentID, rest, err := a.resolveAgent(opts.Args)
	if err != nil {
		return err
	}
	task := strings.TrimSpace(strings.Join(rest, " "))
	if task == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read task from stdin: %w", err)
		}
		task = strings.TrimSpace(string(data))
	}
	if task == "" {
		return fmt.Errorf("no task given; usage: mcpagent run <agent> <task...>")
	}

	res, err := a.runner.Run(ctx, agentID, task)
	if err != nil {
		return err
	}
	a.out.Answer(res.Answer)
	if opts.Transcript {
		fmt.Println()
		a.out.Transcript(res.Messages)
	}
	return nil
}

// runChat reads tasks line by line until "exit" or EOF. Sessions stay warm
// between lines.
func runChat(opts cliOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, opts, appOptions{keepWarm: true})
	if err != nil {
		return err
	}
	defer a.Close()

	agentID, _, err := a.resolveAgent(opts.Args)
	if err != nil {
		return err
	}
	return chatLoop(ctx, os.Stdin, os.Stdout, a.out, func(ctx context.Context, task string) (string, []domain.Message, error) {
		res, err := a.runner.Run(ctx, agentID, task)
		if err != nil {
			return "", nil, err
		}
		return res.Answer, res.Messages, nil
	}, agentID, opts.Transcript)
}

type taskFunc func(ctx context.Context, task string) (string, []domain.Message, error)

// chatLoop is the interactive loop behind runChat. Task failures are printed
// and the loop continues; cancellation ends it.
func chatLoop(ctx context.Context, in io.Reader, w io.Writer, out *console.Printer, run taskFunc, agentID string, showTranscript bool) error {
	fmt.Fprintln(w, console.Title.Render("Chatting with "+agentID)+console.Dim.Render(` (type "exit" to quit)`))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(w, console.UserLabel.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer, msgs, err := run(ctx, line)
		if err != nil {
			if isCanceled(err) || ctx.Err() != nil {
				return nil
			}
			out.Error(err)
			continue
		}
		out.Answer(answer)
		if showTranscript {
			out.Transcript(msgs)
		}
	}
}

// runTools lists the tools of one agent or all agents. Agents whose server
// cannot be started are reported and skipped.
func runTools(opts cliOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, opts, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ids := a.agents.IDs()
	if len(opts.Args) > 0 {
		if _, err := a.agents.Get(opts.Args[0]); err != nil {
			return err
		}
		ids = opts.Args[:1]
	}

	var failed []error
	for _, id := range ids {
		tools, err := a.runner.Tools(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			a.out.Error(err)
			failed = append(failed, err)
			continue
		}
		a.out.Tools(id, tools)
	}
	if len(failed) == len(ids) && len(ids) > 0 {
		return errors.Join(failed...)
	}
	return nil
}

// runAgents lists configured agents; --check probes the backend and every
// active tool server.
func runAgents(opts cliOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, opts, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(console.Title.Render(fmt.Sprintf("backend %s at %s (model %s)", a.backend.Name(), a.cfg.Backend.Host, a.cfg.Backend.Model)))
	if !opts.Check {
		a.out.Agents(a.agents.List(), nil)
		return nil
	}

	var backendErr error
	if hc, ok := a.backend.(domain.HealthChecker); ok {
		pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
		backendErr = hc.Ping(pctx)
		pcancel()
	}
	if backendErr != nil {
		a.out.Check(console.StatusFail, "backend", backendErr.Error(), "Start the server with 'ollama serve' or fix backend.host")
	} else {
		a.out.Check(console.StatusPass, "backend", "reachable", "")
	}

	status := make(map[string]error)
	for _, agent := range a.agents.List() {
		if !agent.HasActiveSession() {
			continue
		}
		_, err := a.runner.Tools(ctx, agent.ID)
		status[agent.ID] = err
	}
	a.out.Agents(a.agents.List(), status)

	if backendErr != nil {
		return domain.WrapError("agents --check", domain.ErrBackend, backendErr, a.cfg.Backend.Host)
	}
	return nil
}

// runHistory lists recent runs, or prints one run's transcript when a run ID
// is given.
func runHistory(opts cliOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, opts, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(opts.Args) > 0 {
		run, err := a.store.Get(ctx, opts.Args[0])
		if err != nil {
			return err
		}
		fmt.Println(console.Title.Render(fmt.Sprintf("%s  %s  %s", run.ID, run.AgentID, run.Status)))
		if run.Error != "" {
			fmt.Println(console.TextError.Render(run.Error))
		}
		a.out.Transcript(run.Messages)
		return nil
	}

	runs, err := a.store.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if !a.cfg.History.Enabled {
		fmt.Println(console.TextWarning.Render("history recording is disabled; set history.enabled: true"))
	}
	a.out.Runs(runs)
	return nil
}

// runEncrypt prints an enc: value for the config file.
func runEncrypt(opts cliOptions) error {
	passphrase := os.Getenv("MCPAGENT_CONFIG_KEY")
	if passphrase == "" {
		return domain.NewDomainError("encrypt", domain.ErrConfiguration, "MCPAGENT_CONFIG_KEY is not set")
	}
	value := strings.Join(opts.Args, " ")
	if value == "" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimRight(string(data), "\r\n")
	}
	if value == "" {
		return fmt.Errorf("no value given; usage: mcpagent encrypt <value>")
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
