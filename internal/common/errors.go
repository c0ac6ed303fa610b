// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Governor errors.
	ErrQueueFull   = errors.New("request queue full")
	ErrCircuitOpen = errors.New("circuit breaker open")

	// Retryable service errors.
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrServerError   = errors.New("server error")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrMaxRetries    = errors.New("max retries exceeded")

	// Terminal request errors.
	ErrAuthFailure      = errors.New("authentication failed")
	ErrMalformedRequest = errors.New("malformed request")
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// Text extraction errors.
	ErrDocumentEncrypted = errors.New("document is encrypted")
	ErrDocumentCorrupted = errors.New("document is corrupted")
	ErrDocumentEmpty     = errors.New("document contains no text")

	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry. Timeouts, rate
// limits, quota and 5xx-style failures retry; auth and malformed-request
// failures never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAuthFailure) ||
		errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrUnsupportedMedia) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
