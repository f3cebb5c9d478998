package tts

import (
	"errors"
	"strconv"
)

// Common TTS errors.
var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrUnsupportedLanguage is returned for a language without a voice profile.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrQuotaExceeded is returned when the account's credits are exhausted.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited is returned when API rate limits are exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidInput is returned when the provider rejects the request payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSynthesisFailed is returned for any other provider failure.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// SynthesisError provides detailed error information from TTS providers.
type SynthesisError struct {
	// Provider is the TTS provider that returned the error.
	Provider string

	// StatusCode is the HTTP status, or 0 when the request never completed.
	StatusCode int

	// Code is the provider-specific error code.
	Code string

	// Message is the error message.
	Message string

	// Cause is one of the sentinel errors above, or a transport error.
	Cause error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	msg := e.Provider
	if e.StatusCode != 0 {
		msg += " " + strconv.Itoa(e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(provider string, status int, code, message string, cause error) *SynthesisError {
	return &SynthesisError{
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}
