package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// Common TTS errors.
var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("tts: text cannot be empty")

	// ErrUnauthorized is returned when the API key is missing or rejected.
	ErrUnauthorized = errors.New("tts: unauthorized")

	// ErrInvalidVoice is returned when the requested voice is not available.
	ErrInvalidVoice = errors.New("tts: invalid or unsupported voice")

	// ErrRateLimited is returned when API rate limits are exceeded.
	ErrRateLimited = errors.New("tts: rate limit exceeded")

	// ErrUnavailable is returned when the TTS service is unavailable.
	ErrUnavailable = errors.New("tts: service unavailable")
)

// Error provides detailed error information from TTS providers.
type Error struct {
	// Provider is the TTS provider that returned the error.
	Provider string

	// StatusCode is the HTTP status returned by the service, if any.
	StatusCode int

	// Message is the provider's error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error

	// Retryable indicates if the error is transient and retry may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusError classifies an HTTP error status into an *Error with the matching
// sentinel cause.
func StatusError(provider string, status int, message string) *Error {
	e := &Error{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Retryable:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Cause = ErrUnauthorized
	case status == http.StatusNotFound:
		e.Cause = ErrInvalidVoice
	case status == http.StatusTooManyRequests:
		e.Cause = ErrRateLimited
	case status >= http.StatusInternalServerError:
		e.Cause = ErrUnavailable
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
