package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the runtime wraps exactly one of these.
var (
	ErrConfiguration  = fmt.Errorf("invalid configuration")
	ErrSessionLaunch  = fmt.Errorf("tool session launch failed")
	ErrHandshake      = fmt.Errorf("tool session handshake failed")
	ErrInvocation     = fmt.Errorf("tool invocation failed")
	ErrTimeout        = fmt.Errorf("operation timed out")
	ErrBackend        = fmt.Errorf("language model backend failed")
	ErrIterationLimit = fmt.Errorf("conversation reached iteration limit")
	ErrCanceled       = fmt.Errorf("operation canceled")
)

// Specific sentinels. Each one also matches its kind through errors.Is.
var (
	ErrDuplicateAgent   = fmt.Errorf("duplicate agent identifier: %w", ErrConfiguration)
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrInvalidArguments = fmt.Errorf("invalid tool arguments")
	ErrSessionClosed    = fmt.Errorf("tool session closed")
	ErrLoopUsed         = fmt.Errorf("conversation loop already used")
	ErrEmptyReply       = fmt.Errorf("empty model reply")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrRunNotFound      = fmt.Errorf("run not found")
)

// DomainError wraps an error kind with operation context and the underlying cause.
type DomainError struct {
	Op     string // operation name (e.g., "Session.Invoke")
	Err    error  // error kind sentinel
	Detail string // human-readable detail
	Cause  error  // underlying error, may be nil
}

func (e *DomainError) Error() string {
	msg := e.Op + ": "
	if e.Detail != "" {
		msg += e.Detail + ": "
	}
	msg += e.Err.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *DomainError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Code returns the ErrorCode for this error.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e) }

// NewDomainError creates a new DomainError without a cause.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapError creates a DomainError of the given kind around cause.
func WrapError(op string, kind error, cause error, detail string) *DomainError {
	return &DomainError{Op: op, Err: kind, Detail: detail, Cause: cause}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for callers and exit reporting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeConfiguration    ErrorCode = "CONFIGURATION"
	CodeAgentDuplicate   ErrorCode = "AGENT_DUPLICATE"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeToolUnavailable  ErrorCode = "TOOL_UNAVAILABLE"
	CodeToolHandshake    ErrorCode = "TOOL_HANDSHAKE"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	CodeSessionClosed    ErrorCode = "SESSION_CLOSED"
	CodeToolFailure      ErrorCode = "TOOL_FAILURE"
	CodeBackend          ErrorCode = "BACKEND_UNREACHABLE"
	CodeIterationLimit   ErrorCode = "ITERATION_LIMIT"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLoopUsed         ErrorCode = "LOOP_REUSED"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeRunNotFound      ErrorCode = "RUN_NOT_FOUND"
)

// errorCodes is checked in order; specific sentinels precede their kinds so
// that a wrapped chain resolves to the most precise code.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrDuplicateAgent, CodeAgentDuplicate},
	{ErrDecryption, CodeDecryption},
	{ErrConfiguration, CodeConfiguration},
	{ErrAgentNotFound, CodeAgentNotFound},
	{ErrLoopUsed, CodeLoopUsed},
	{ErrRunNotFound, CodeRunNotFound},
	{ErrSessionLaunch, CodeToolUnavailable},
	{ErrHandshake, CodeToolHandshake},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrInvalidArguments, CodeInvalidArguments},
	{ErrSessionClosed, CodeSessionClosed},
	{ErrInvocation, CodeToolFailure},
	{ErrBackend, CodeBackend},
	{ErrIterationLimit, CodeIterationLimit},
	{ErrCanceled, CodeCanceled},
	{ErrTimeout, CodeTimeout},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// IsToolFailure reports whether err is recoverable inside a conversation:
// the model can be told about it and may try something else.
func IsToolFailure(err error) bool {
	return errors.Is(err, ErrInvocation)
}
