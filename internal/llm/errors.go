package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// ErrInference marks every failed inference call.
var ErrInference = errors.New("inference failed")

// Reason categorizes an inference failure for retry decisions.
type Reason string

const (
	ReasonTimeout        Reason = "timeout"
	ReasonRateLimit      Reason = "rate_limit"
	ReasonServerError    Reason = "server_error"
	ReasonAuth           Reason = "auth"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonEmpty          Reason = "empty_response"
	ReasonCanceled       Reason = "canceled"
	ReasonUnknown        Reason = "unknown"
)

// IsRetryable reports whether another attempt may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// InferenceError is a classified failure from the model provider.
type InferenceError struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Attempts int
	Cause    error
}

func (e *InferenceError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *InferenceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInference}
	}
	return []error{ErrInference, e.Cause}
}

// NewInferenceError classifies cause and wraps it.
func NewInferenceError(provider, model string, cause error) *InferenceError {
	var existing *InferenceError
	if errors.As(cause, &existing) {
		return existing
	}
	e := &InferenceError{Provider: provider, Model: model, Cause: cause}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var anthErr *anthropic.Error
	switch {
	case errors.As(cause, &anthErr):
		e.Status = anthErr.StatusCode
		e.Reason = classifyStatus(anthErr.StatusCode)
	case errors.As(cause, &apiErr):
		e.Status = apiErr.HTTPStatusCode
		e.Reason = classifyStatus(apiErr.HTTPStatusCode)
	case errors.As(cause, &reqErr):
		e.Status = reqErr.HTTPStatusCode
		e.Reason = classifyStatus(reqErr.HTTPStatusCode)
	default:
		e.Reason = classifyMessage(cause)
	}
	return e
}

// IsRetryable reports whether err is an inference failure worth retrying.
func IsRetryable(err error) bool {
	var e *InferenceError
	if errors.As(err, &e) {
		return e.Reason.IsRetryable()
	}
	return classifyMessage(err).IsRetryable()
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	case status >= 400:
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

func classifyMessage(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return ReasonAuth
	case strings.Contains(msg, "server error") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}
