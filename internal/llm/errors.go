package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorReason categorizes why a provider request failed, driving the
// retry decision: transient reasons are retried with backoff, the rest
// surface immediately.
type ErrorReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth ErrorReason = "auth"

	// ReasonTimeout indicates a request timeout.
	ReasonTimeout ErrorReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError ErrorReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400).
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonBilling indicates payment or quota issues (HTTP 402).
	ReasonBilling ErrorReason = "billing"

	// ReasonModelUnavailable indicates the requested model is not available.
	ReasonModelUnavailable ErrorReason = "model_unavailable"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown ErrorReason = "unknown"
)

// IsRetryable reports whether retrying may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM backend. It is fatal for
// the current conversation turn; history stays intact for a retry.
type ProviderError struct {
	// Reason categorizes the error for the retry decision.
	Reason ErrorReason

	// Provider is the backend name, e.g. "anthropic" or "openai".
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

func (e *ProviderError) Error() string {
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
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with classification from its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = classifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	if status != 0 {
		e.Status = status
		e.Reason = classifyStatusCode(status)
	}
	return e
}

// WithCode records a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	return e
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return ReasonTimeout
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return ReasonRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return ReasonAuth
	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "402"):
		return ReasonBilling
	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "model_not_found"):
		return ReasonModelUnavailable
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Reason.IsRetryable()
	}
	return classifyError(err).IsRetryable()
}
