// Package apperr defines the failure taxonomy shared by adapters, the ledger,
// the task runner and the HTTP surface.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTaskNotFound        = errors.New("task not found")
	ErrForbidden           = errors.New("task belongs to another user")
	ErrModelNotFound       = errors.New("model not found or disabled")
)

// ConfigurationError reports operator misconfiguration such as a missing
// credential or base URL. Never retried.
type ConfigurationError struct {
	Channel string
	Field   string
}

func (e *ConfigurationError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("%s is not configured", e.Field)
	}
	return fmt.Sprintf("%s: %s is not configured", e.Channel, e.Field)
}

// ProviderError wraps a non-success provider response or an unusable body.
// Message carries the provider text verbatim.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ContentPolicyError means the provider rejected the prompt or the result.
type ContentPolicyError struct {
	Reason string
}

func (e *ContentPolicyError) Error() string {
	return "content policy violation: " + e.Reason
}

// TimeoutError means a bounded wait expired.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func Provider(provider string, status int, message string) error {
	return &ProviderError{Provider: provider, Status: status, Message: message}
}

func Config(channel, field string) error {
	return &ConfigurationError{Channel: channel, Field: field}
}

// Retryable reports whether a failed submit may be attempted again.
// Content policy and configuration failures are final, as are 4xx responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	var policyErr *ContentPolicyError
	var timeoutErr *TimeoutError
	if errors.As(err, &cfgErr) || errors.As(err, &policyErr) || errors.As(err, &timeoutErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Status >= 500
	}
	return true
}

// UserMessage renders err for display on a failed task.
func UserMessage(err error) string {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return "service unavailable"
	}
	var policyErr *ContentPolicyError
	if errors.As(err, &policyErr) {
		return "Content rejected by moderation: " + policyErr.Reason
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "generation timed out"
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
