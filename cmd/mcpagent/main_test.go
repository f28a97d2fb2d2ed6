package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-mcp-agents/internal/adapter/console"
	"ollama-mcp-agents/internal/domain"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want cliOptions
	}{
		{
			name: "defaults",
			args: nil,
			want: cliOptions{EnvFile: ".env", Limit: 20},
		},
		{
			name: "positional and flags mixed",
			args: []string{"calculator", "--plain", "What", "is", "2+2?", "--transcript"},
			want: cliOptions{EnvFile: ".env", Limit: 20, Plain: true, Transcript: true,
				Args: []string{"calculator", "What", "is", "2+2?"}},
		},
		{
			name: "flag values separate and inline",
			args: []string{"--config", "a.yaml", "--env=prod.env", "--limit", "5", "--check"},
			want: cliOptions{ConfigPath: "a.yaml", EnvFile: "prod.env", Limit: 5, Check: true},
		},
		{
			name: "double dash ends flags",
			args: []string{"calc", "--", "--plain", "-x"},
			want: cliOptions{EnvFile: ".env", Limit: 20, Args: []string{"calc", "--plain", "-x"}},
		},
		{
			name: "single dash is positional",
			args: []string{"-5", "+", "3"},
			want: cliOptions{EnvFile: ".env", Limit: 20, Args: []string{"-5", "+", "3"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--bogus"},
		{"--config"},
		{"--limit", "zero"},
		{"--limit=-1"},
	} {
		if _, err := parseArgs(args); err == nil {
			t.Errorf("parseArgs(%q) = nil error, want error", args)
		}
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("MCPAGENT_CONFIG", "")

	assert.Equal(t, "explicit.yaml", configPath(cliOptions{ConfigPath: "explicit.yaml"}))
	assert.Equal(t, "mcp_servers.yaml", configPath(cliOptions{}), "fallback when nothing exists")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mpc_servers.json"), []byte(`{"mcpServers":{}}`), 0o600))
	assert.Equal(t, "mpc_servers.json", configPath(cliOptions{}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp_servers.yaml"), []byte("mcpServers: {}\n"), 0o600))
	assert.Equal(t, "mcp_servers.yaml", configPath(cliOptions{}))

	t.Setenv("MCPAGENT_CONFIG", "/etc/mcpagent.yaml")
	assert.Equal(t, "/etc/mcpagent.yaml", configPath(cliOptions{}))
	assert.Equal(t, "explicit.yaml", configPath(cliOptions{ConfigPath: "explicit.yaml"}))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")))
	assert.NoError(t, loadDotEnv(""))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MCPAGENT_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("MCPAGENT_TEST_DOTENV", "")
	os.Unsetenv("MCPAGENT_TEST_DOTENV")

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("MCPAGENT_TEST_DOTENV"))
}

func TestChatLoop(t *testing.T) {
	var tasks []string
	run := func(_ context.Context, task string) (string, []domain.Message, error) {
		tasks = append(tasks, task)
		if task == "fail" {
			return "", nil, domain.NewDomainError("Run", domain.ErrBackend, "down")
		}
		return "answer to " + task, nil, nil
	}

	var w, out bytes.Buffer
	in := strings.NewReader("first\n\nfail\nsecond\nexit\nnever\n")
	err := chatLoop(context.Background(), in, &w, console.NewPrinter(&out, console.WithPlain()), run, "calculator", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "fail", "second"}, tasks)
	assert.Contains(t, out.String(), "answer to first")
	assert.Contains(t, out.String(), "answer to second")
	assert.Contains(t, out.String(), string(domain.CodeBackend))
	assert.Contains(t, w.String(), "calculator")
}

func TestChatLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	run := func(ctx context.Context, _ string) (string, []domain.Message, error) {
		calls++
		cancel()
		return "", nil, ctx.Err()
	}

	var w, out bytes.Buffer
	err := chatLoop(ctx, strings.NewReader("one\ntwo\n"), &w, console.NewPrinter(&out, console.WithPlain()), run, "a", false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestChatLoopEOF(t *testing.T) {
	var w, out bytes.Buffer
	run := func(context.Context, string) (string, []domain.Message, error) {
		return "", nil, errors.New("unexpected call")
	}
	err := chatLoop(context.Background(), strings.NewReader(""), &w, console.NewPrinter(&out), run, "a", false)
	assert.NoError(t, err)
	assert.Empty(t, out.String())
}
