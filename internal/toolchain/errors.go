package toolchain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlan marks a tool sequence whose dependencies cannot be satisfied.
	ErrPlan = errors.New("tool chain plan invalid")

	// ErrUnsafeTool marks a call rejected by its safety predicate.
	ErrUnsafeTool = errors.New("unsafe tool")

	// ErrToolExecutionFailed marks a tool that errored, timed out or whose
	// result could not be integrated.
	ErrToolExecutionFailed = errors.New("tool execution failed")

	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")

	// ErrInvalidInput indicates parameters that do not match the tool schema.
	ErrInvalidInput = errors.New("invalid tool input")
)

// PlanError describes why a chain was rejected during planning.
type PlanError struct {
	CallID string
	Reason string
	Cause  error
}

func (e *PlanError) Error() string {
	msg := fmt.Sprintf("plan: call %q: %s", e.CallID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PlanError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrPlan}
	}
	return []error{ErrPlan, e.Cause}
}

// UnsafeToolError is returned when a tool's safety predicate rejects the
// current shared context. It is never retried.
type UnsafeToolError struct {
	ToolID string
	CallID string
	Cause  error
}

func (e *UnsafeToolError) Error() string {
	return fmt.Sprintf("unsafe tool %s (call %s): %v", e.ToolID, e.CallID, e.Cause)
}

func (e *UnsafeToolError) Unwrap() []error {
	return []error{ErrUnsafeTool, e.Cause}
}

// ToolErrorType categorizes tool execution errors for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorIntegration  ToolErrorType = "integration"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorCanceled     ToolErrorType = "canceled"
)

// IsRetryable reports whether retrying may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a classified tool failure. It matches ErrToolExecutionFailed
// and its cause.
type ToolError struct {
	Type      ToolErrorType
	ToolID    string
	CallID    string
	Message   string
	Cause     error
	Retryable bool
	Attempts  int
}

func newToolError(toolID, callID string, cause error) *ToolError {
	t := classifyToolError(cause)
	e := &ToolError{Type: t, ToolID: toolID, CallID: callID, Cause: cause, Retryable: t.IsRetryable(), Attempts: 1}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *ToolError) withType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolID != "" {
		parts = append(parts, e.ToolID)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrToolExecutionFailed}
	}
	return []error{ErrToolExecutionFailed, e.Cause}
}

// classifyToolError determines the error type from the error content.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorExecution
	}
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrInvalidInput):
		return ToolErrorInvalidInput
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "refused") || strings.Contains(msg, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ToolErrorRateLimit
	default:
		return ToolErrorExecution
	}
}
