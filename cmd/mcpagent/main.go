package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"ollama-mcp-agents/internal/adapter/console"
	"ollama-mcp-agents/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	cmd := os.Args[1]
	opts, err := parseArgs(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n\nRun 'mcpagent --help' for usage information.\n", cmd, err)
		os.Exit(2)
	}
	if err := loadDotEnv(opts.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "run":
		err = runTask(opts)
	case "chat":
		err = runChat(opts)
	case "tools":
		err = runTools(opts)
	case "agents":
		err = runAgents(opts)
	case "history":
		err = runHistory(opts)
	case "encrypt":
		err = runEncrypt(opts)
	case "doctor":
		err = runDoctor(opts)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'mcpagent --help' for usage information.\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		exitWithError(cmd, err)
	}
}

func showUsage() {
	fmt.Println(`mcpagent - run tasks on local Ollama models with MCP tool servers

USAGE:
    mcpagent <COMMAND> [FLAGS] [ARGS]

COMMANDS:
    run <agent> <task...>    Run one task and print the final answer
    chat <agent>             Interactive loop; type "exit" to quit
    tools [agent]            List the tools each agent can call
    agents [--check]         List configured agents (--check probes backend and servers)
    history [--limit N]      Show recent runs from the transcript store
    history <run-id>         Show the full transcript of one run
    encrypt <value>          Encrypt a secret with MCPAGENT_CONFIG_KEY
    doctor                   Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ./mcp_servers.yaml, then ./mpc_servers.json)
    --env PATH         Dotenv file loaded before anything else (default: ./.env)
    --plain            Print answers without markdown rendering
    --transcript       Print the full conversation after the answer
    -v, --verbose      Show tool calls as they happen

ENVIRONMENT:
    MCPAGENT_CONFIG        Config file path
    MCPAGENT_CONFIG_KEY    Passphrase for enc: secrets
    OLLAMA_HOST            Ollama server address
    MCPAGENT_*             Overrides for config fields

EXAMPLES:
    mcpagent run calculator "What is 8 times 12?"
    mcpagent chat calculator
    mcpagent tools
    mcpagent history --limit 5`)
}

// cliOptions holds flags shared by all commands.
type cliOptions struct {
	ConfigPath string
	EnvFile    string
	Limit      int
	Check      bool
	Plain      bool
	Transcript bool
	Verbose    bool
	Args       []string // positional arguments
}

// parseArgs extracts known flags from args; everything else is positional.
// "--" ends flag parsing.
func parseArgs(args []string) (cliOptions, error) {
	opts := cliOptions{EnvFile: ".env", Limit: 20}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		next := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("flag %s needs a value", name)
			}
			i++
			return args[i], nil
		}

		switch name {
		case "--":
			opts.Args = append(opts.Args, args[i+1:]...)
			return opts, nil
		case "--config":
			v, err := next()
			if err != nil {
				return opts, err
			}
			opts.ConfigPath = v
		case "--env":
			v, err := next()
			if err != nil {
				return opts, err
			}
			opts.EnvFile = v
		case "--limit":
			v, err := next()
			if err != nil {
				return opts, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("--limit must be a positive integer, got %q", v)
			}
			opts.Limit = n
		case "--check":
			opts.Check = true
		case "--plain":
			opts.Plain = true
		case "--transcript":
			opts.Transcript = true
		case "--verbose", "-v":
			opts.Verbose = true
		default:
			if strings.HasPrefix(arg, "--") {
				return opts, fmt.Errorf("unknown flag %s", name)
			}
			opts.Args = append(opts.Args, arg)
		}
	}
	return opts, nil
}

// configPath resolves the config file: --config, then MCPAGENT_CONFIG, then
// ./mcp_servers.yaml, then ./mpc_servers.json. When none exists the first
// default is returned and config.Load falls back to built-in defaults.
func configPath(opts cliOptions) string {
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	if p := os.Getenv("MCPAGENT_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"mcp_servers.yaml", "mpc_servers.json"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "mcp_servers.yaml"
}

// loadDotEnv loads environment variables from path. A missing file is
// ignored so that .env files remain optional.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// exitWithError prints a humanized error and its machine code, then exits 1.
func exitWithError(cmd string, err error) {
	console.NewPrinter(os.Stderr).Error(fmt.Errorf("%s: %w", cmd, err))
	if code := domain.ErrorCodeOf(err); code != domain.CodeUnknown {
		fmt.Fprintf(os.Stderr, "error code: %s\n", code)
	}
	os.Exit(1)
}
