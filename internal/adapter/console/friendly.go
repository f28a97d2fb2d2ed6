package console

import (
	"errors"
	"fmt"
	"strings"

	"ollama-mcp-agents/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Code    domain.ErrorCode
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error as plain text.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Code != "" && fe.Code != domain.CodeUnknown {
		sb.WriteString(" [" + string(fe.Code) + "]")
	}
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", Symbols.Bullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// Sentinels are checked before string patterns so errors.Is works through wrapping.
var patterns = []errorPattern{
	{
		match: is(domain.ErrDecryption),
		produce: constantError("Decryption Failed", "An enc: secret in the config could not be decrypted.",
			[]string{"Check MCPAGENT_CONFIG_KEY", "Re-encrypt the value with 'mcpagent encrypt'"}),
	},
	{
		match: is(domain.ErrConfiguration),
		produce: constantError("Invalid Configuration", "The configuration file was rejected.",
			[]string{"Run 'mcpagent doctor' to see every problem", "Check the mcpServers section for duplicate or empty names"}),
	},
	{
		match: is(domain.ErrAgentNotFound),
		produce: constantError("Unknown Agent", "No agent with that identifier is registered.",
			[]string{"Run 'mcpagent agents' to list the available agents"}),
	},
	{
		match: is(domain.ErrSessionLaunch),
		produce: constantError("Tool Server Unavailable", "The MCP tool server could not be started.",
			[]string{"Check the command and args of the server in the config", "Run the command by hand to see its output", "Set active: false to run the agent without tools"}),
	},
	{
		match: is(domain.ErrHandshake),
		produce: constantError("Tool Handshake Failed", "The MCP tool server started but did not complete discovery.",
			[]string{"Increase conversation.handshake_timeout", "Check that the server speaks MCP over stdio"}),
	},
	{
		match: is(domain.ErrIterationLimit),
		produce: constantError("Iteration Limit Reached", "The model kept calling tools without giving a final answer.",
			[]string{"Break the task into smaller steps", "Increase conversation.max_iterations"}),
	},
	{
		match: is(domain.ErrBackend),
		produce: constantError("Model Backend Failed", "The language model server did not return a usable reply.",
			[]string{"Check that Ollama is running ('ollama serve')", "Verify backend.host and backend.model", "Pull the model with 'ollama pull <model>'"}),
	},
	{
		match:   is(domain.ErrCanceled),
		produce: constantError("Canceled", "The task was canceled before it finished.", nil),
	},
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the remote service.", []string{"Verify backend.host in config", "Check if a firewall is blocking the connection"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "timed out"),
		produce: constantError("Request Timed Out", "The request took too long to complete.", []string{"Increase backend.timeout in config", "Try a smaller model"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			fe.Code = domain.ErrorCodeOf(err)
			return fe
		}
	}
	return FriendlyError{
		Code:    domain.ErrorCodeOf(err),
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Run with MCPAGENT_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
