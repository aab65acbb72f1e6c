// Package apierrors classifies failures talking to the survey server.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes a survey server failure.
type ErrorType int8

const (
	// ErrorTypeTransport covers connection refused, resets, DNS and timeouts.
	ErrorTypeTransport ErrorType = iota
	// ErrorTypeServer covers 5xx replies.
	ErrorTypeServer
	// ErrorTypeRateLimit covers 429 replies.
	ErrorTypeRateLimit

	// ErrorTypeNotFound covers 404 replies, e.g. an unknown session on resume.
	ErrorTypeNotFound
	// ErrorTypeBadRequest covers other 4xx replies.
	ErrorTypeBadRequest
	// ErrorTypeMalformed covers 2xx replies whose body is not the expected JSON.
	ErrorTypeMalformed
	// ErrorTypeProtocol covers well-formed replies that cannot be mapped to a known variant.
	ErrorTypeProtocol
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeMalformed:
		return "malformed"
	case ErrorTypeProtocol:
		return "protocol"
	default:
		return "invalid"
	}
}

// Error is a classified survey server failure.
type Error struct {
	Err        error
	Message    string
	Op         string // start, resume, answer, end
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("survey api %s error", e.Type)
	if e.Op != "" {
		prefix = fmt.Sprintf("survey api %s %s error", e.Op, e.Type)
	}
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d): %s", prefix, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", prefix, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether re-sending the same request may succeed.
// Everything is retryable unless explicitly listed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNotFound, ErrorTypeBadRequest, ErrorTypeProtocol:
		return false
	default:
		return true
	}
}

// Is checks if err is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type == errorType
	}
	return false
}

// TypeOf returns the classified type of err, or ErrorTypeTransport if unclassified.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeTransport
}

// IsRetryable reports whether err is worth re-sending. Unclassified errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}

func NewError(errorType ErrorType, op, message string) *Error {
	return &Error{Type: errorType, Op: op, Message: message}
}

func NewErrorWithCause(errorType ErrorType, op string, cause error, message string) *Error {
	return &Error{Type: errorType, Op: op, Err: cause, Message: message}
}

// FromStatus classifies a non-2xx status code. detail is the server's explanation, if any.
func FromStatus(op string, statusCode int, detail string) *Error {
	if detail == "" {
		detail = http.StatusText(statusCode)
	}
	var t ErrorType
	switch {
	case statusCode == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case statusCode == http.StatusNotFound:
		t = ErrorTypeNotFound
	case statusCode >= 500:
		t = ErrorTypeServer
	default:
		t = ErrorTypeBadRequest
	}
	return &Error{Type: t, Op: op, StatusCode: statusCode, Message: detail}
}
