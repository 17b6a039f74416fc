package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUpstreamUnavailable = errors.New("upstream generation service unavailable")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrPollTimeout         = errors.New("job did not finish before the deadline")
	ErrNoOutput            = errors.New("no image or video in response")
	ErrNoRefreshToken      = errors.New("no refresh token stored")
	ErrRefreshNotSupported = errors.New("token refresh not supported by backend")
)

// ValidationError reports malformed caller input, detected before any network
// call is made.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransientError marks a failure worth retrying: a 500 from the server or a
// transport-level failure. Both are treated identically by the retrier.
type TransientError struct {
	Msg string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// RequestFailedError carries a non-retryable upstream rejection together with
// the most human-readable message that could be extracted from its body.
type RequestFailedError struct {
	StatusCode int
	Message    string
}

func (e *RequestFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed: %d", e.StatusCode)
}

// JobFailedError reports that the upstream explicitly marked the job failed.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "job failed"
	}
	return "job failed: " + e.Message
}
