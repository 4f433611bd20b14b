package core

import (
	"errors"
	"fmt"
)

// Error codes returned to clients alongside a message.
const (
	CodeInvalidBody    = "INVALID_BODY"
	CodeMissingQuery   = "MISSING_QUERY"
	CodeInvalidUserID  = "INVALID_USER_ID"
	CodeInvalidID      = "INVALID_ID"
	CodeMissingMessage = "MISSING_MESSAGE"
	CodeMissingRole    = "MISSING_ROLE"
	CodeInvalidRole    = "INVALID_ROLE"
	CodeInvalidContent = "INVALID_CONTENT"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeCreateFailed   = "CONVERSATION_CREATE_FAILED"
	CodeMessageFailed  = "MESSAGE_CREATE_FAILED"
	CodeInternal       = "INTERNAL"
)

var (
	ErrNotFound = errors.New("conversation not found")

	// ErrBothModelsFailed is returned when the fallback model also fails.
	ErrBothModelsFailed = errors.New("both primary and fallback models failed, please try again later")

	ErrMissingAPIKey = errors.New("gemini API key is not configured")
)

// ValidationError is a client input problem with a machine readable code.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

// RateLimitedError reports a denied admission and when to retry.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", e.RetryAfter)
}

// UpstreamError is a non-2xx answer from a provider API.
type UpstreamError struct {
	Status  int
	Message string
	Details string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// GenerationError is a terminal answer generation failure. Error returns only
// the public message; Cause keeps the provider error for logging.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string { return e.Message }

func (e *GenerationError) Unwrap() error { return e.Cause }

// PersistenceError is a store failure. Code tells the client which write
// failed; Err is for logs only.
type PersistenceError struct {
	Code    string
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(code, message string, err error) error {
	return &PersistenceError{Code: code, Message: message, Err: err}
}
