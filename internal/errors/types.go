package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"codecoder/internal/logging"
)

// TransientError represents a provider or I/O failure that can be retried.
type TransientError struct {
	Err        error
	RetryAfter int    // Seconds to wait before retry, from a Retry-After header.
	StatusCode int    // HTTP status code if applicable.
	Message    string // User-facing message.
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents a failure that must not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable with a user-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError wraps err as non-retryable with a user-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

var statusCodePattern = regexp.MustCompile(`(?:status(?: code)?[ :]+|HTTP )(\d{3})|\b(4\d\d|5\d\d)\b`)

// IsTransient reports whether err should be retried: explicit TransientError,
// HTTP 5xx/429, an "overloaded" body, or a connection reset/timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	return strings.Contains(strings.ToLower(err.Error()), "overloaded")
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return !isTransientHTTPStatus(statusCode)
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// RetryAfterSeconds returns the server-supplied wait in seconds, or 0.
func RetryAfterSeconds(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.RetryAfter > 0 {
		return transientErr.RetryAfter
	}
	return 0
}

// FormatForUser converts an error into an actionable, secret-free message.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.Message != "" {
		return logging.Redact(transientErr.Message)
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.Message != "" {
		return logging.Redact(permanentErr.Message)
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "rate limit") || strings.Contains(lowerErr, "429"):
		msg := "Rate limit reached. Retrying with exponential backoff."
		if after := RetryAfterSeconds(err); after > 0 {
			msg = fmt.Sprintf("Rate limit reached. Honoring Retry-After of %ds before the next attempt.", after)
		}
		return msg
	case strings.Contains(lowerErr, "overloaded"):
		return "Provider is overloaded. Retrying with exponential backoff."
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return "Request timed out. Try breaking the task into smaller steps."
	case strings.Contains(lowerErr, "connection refused") || strings.Contains(lowerErr, "connection reset"):
		return "Could not reach the provider. Check connectivity and retry."
	case strings.Contains(lowerErr, "unauthorized") || strings.Contains(lowerErr, "401"):
		return "Authentication failed. Check the provider API key configuration."
	case strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404"):
		return "Resource not found. Verify the path or identifier."
	case strings.Contains(lowerErr, "500") || strings.Contains(lowerErr, "502") || strings.Contains(lowerErr, "503"):
		return "Provider error. The service is temporarily unavailable; retrying."
	}

	return logging.Redact(err.Error())
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"deadline exceeded",
		"stream interrupted",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return statusCode >= 500
}

func extractHTTPStatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.StatusCode > 0 {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.StatusCode > 0 {
		return permanentErr.StatusCode
	}

	matches := statusCodePattern.FindStringSubmatch(err.Error())
	if matches == nil {
		return 0
	}
	for _, m := range matches[1:] {
		if m == "" {
			continue
		}
		if code, convErr := strconv.Atoi(m); convErr == nil {
			return code
		}
	}
	return 0
}
