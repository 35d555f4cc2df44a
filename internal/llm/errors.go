package llm

import (
	"errors"
	"fmt"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving retry
// decisions in Complete's backoff loop.
type FailureReason string

const (
	FailureRateLimit   FailureReason = "rate_limit"
	FailureAuth        FailureReason = "auth"
	FailureTimeout     FailureReason = "timeout"
	FailureServerError FailureReason = "server_error"
	FailureInvalid     FailureReason = "invalid_request"
	FailureUnknown     FailureReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError wraps a failed provider call with enough context for the
// turn engine's retry loop and for surfacing a useful JSON-RPC error.
type ProviderError struct {
	Reason    FailureReason
	Provider  string
	Model     string
	Status    int
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause, classifying it from its message text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailureUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records an HTTP status code and reclassifies the reason from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// ClassifyError guesses a FailureReason from an error's message text, for
// SDK errors that don't carry a structured status code.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "internal server"), strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return FailureServerError
	case strings.Contains(msg, "invalid request"), strings.Contains(msg, "400"):
		return FailureInvalid
	default:
		return FailureUnknown
	}
}

func classifyStatusCode(status int) FailureReason {
	switch {
	case status == 401 || status == 403:
		return FailureAuth
	case status == 429:
		return FailureRateLimit
	case status == 400:
		return FailureInvalid
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// IsRetryable reports whether err (raw or a *ProviderError) should be retried.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
