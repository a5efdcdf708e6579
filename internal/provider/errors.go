package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type ErrorKind string

const (
	KindRateLimit     ErrorKind = "RATE_LIMIT"
	KindQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	KindNetwork       ErrorKind = "NETWORK_ERROR"
	KindProvider      ErrorKind = "PROVIDER_ERROR"
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindUnknown       ErrorKind = "UNKNOWN_ERROR"
)

type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is transient. QUOTA_EXCEEDED is a
// hard plan limit and never retried.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindProvider:
		return true
	}
	return false
}

// Classify maps an HTTP-equivalent status code onto the error taxonomy.
func Classify(statusCode int) ErrorKind {
	switch {
	case statusCode == 429:
		return KindRateLimit
	case statusCode == 402 || statusCode == 403:
		return KindQuotaExceeded
	case statusCode >= 500 && statusCode <= 599:
		return KindProvider
	case statusCode >= 400 && statusCode <= 499:
		return KindValidation
	default:
		return KindUnknown
	}
}

func FromStatus(statusCode int, message string) *Error {
	return &Error{
		Kind:       Classify(statusCode),
		StatusCode: statusCode,
		Message:    message,
	}
}

// IsRetryable classifies arbitrary errors: provider errors answer for
// themselves, timeouts and connection failures count as NETWORK_ERROR.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
