package narration

import (
	"errors"
	"fmt"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/tts"
)

// ErrorKind classifies a failed narration for callers.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	KindRateLimited   ErrorKind = "RATE_LIMITED"
	KindProviderError ErrorKind = "PROVIDER_ERROR"
	KindStorageError  ErrorKind = "STORAGE_ERROR"
	KindInvalidInput  ErrorKind = "INVALID_INPUT"
)

// Error is returned by Pipeline.Narrate for every failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that did not come from the pipeline
// are classified as provider errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return providerKind(err)
}

// Retryable reports whether the same request may succeed later without any
// change on the caller's side. Only throttling qualifies.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited
}

func providerKind(err error) ErrorKind {
	switch {
	case errors.Is(err, tts.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, tts.ErrRateLimited):
		return KindRateLimited
	}
	return KindProviderError
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func storageError(message string, err error) *Error {
	return &Error{Kind: KindStorageError, Message: message, Err: err}
}

func providerError(err error) *Error {
	return &Error{Kind: providerKind(err), Message: "speech synthesis failed", Err: err}
}
