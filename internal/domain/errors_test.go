package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Session.Invoke", ErrToolNotFound, "tool 'foo'")
	want := "Session.Invoke: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Loop.Run", ErrIterationLimit, "")
	want := "Loop.Run: conversation reached iteration limit"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatWithCause(t *testing.T) {
	err := WrapError("Manager.Start", ErrSessionLaunch, errors.New("exec: not found"), "calculator")
	want := "Manager.Start: calculator: tool session launch failed: exec: not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorMatchesKindAndCause(t *testing.T) {
	err := WrapError("Session.Invoke", ErrInvocation, fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded), "multiply")

	assert.ErrorIs(t, err, ErrInvocation)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrBackend)
}

func TestDomainErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("run task: %w", NewDomainError("Runner.RunTask", ErrAgentNotFound, "ghost"))
	var de *DomainError
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "Runner.RunTask", de.Op)
	assert.Equal(t, CodeAgentNotFound, de.Code())
}

func TestDuplicateAgentIsConfigurationError(t *testing.T) {
	if !errors.Is(ErrDuplicateAgent, ErrConfiguration) {
		t.Error("ErrDuplicateAgent should match ErrConfiguration")
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should return nil")
	}
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"unrelated", errors.New("boom"), CodeUnknown},
		{"duplicate agent", NewDomainError("Registry", ErrDuplicateAgent, "calc"), CodeAgentDuplicate},
		{"configuration", fmt.Errorf("load: %w", ErrConfiguration), CodeConfiguration},
		{"launch", WrapError("Start", ErrSessionLaunch, errors.New("no such file"), ""), CodeToolUnavailable},
		{"handshake timeout", WrapError("Discover", ErrHandshake, ErrTimeout, ""), CodeToolHandshake},
		{"unknown tool", WrapError("Invoke", ErrInvocation, ErrToolNotFound, "x"), CodeToolNotFound},
		{"closed session", WrapError("Invoke", ErrInvocation, ErrSessionClosed, ""), CodeSessionClosed},
		{"tool timeout", WrapError("Invoke", ErrInvocation, ErrTimeout, ""), CodeToolFailure},
		{"backend timeout", WrapError("Loop", ErrBackend, ErrTimeout, ""), CodeBackend},
		{"iteration limit", NewDomainError("Loop", ErrIterationLimit, ""), CodeIterationLimit},
		{"canceled", WrapError("Loop", ErrCanceled, context.Canceled, ""), CodeCanceled},
		{"bare timeout", ErrTimeout, CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestIsToolFailure(t *testing.T) {
	assert.True(t, IsToolFailure(WrapError("Invoke", ErrInvocation, ErrToolNotFound, "")))
	assert.False(t, IsToolFailure(NewDomainError("Loop", ErrBackend, "")))
}
