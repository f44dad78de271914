// Package errors provides structured error handling for the resilience layer.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors, including pool acquisition timeouts
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeRateLimit represents rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeQuery represents query/batch execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeState represents operations attempted in an invalid state
	ErrorTypeState ErrorType = "state"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	// A miss is a normal control-flow outcome, not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrPoolClosed indicates an operation was attempted on a closed pool
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// NewPoolTimeout creates the error returned when no connection becomes
// available within the configured acquisition timeout. It is retryable by
// the caller after backoff.
func NewPoolTimeout(waited time.Duration) *Error {
	return New(ErrorTypeTimeout, "no connection available within timeout").
		WithDetail("waited", waited.String())
}

// NewNotInitialized creates the error for operations attempted before
// the pool or scheduler has been set up. Programmer error, fails fast.
func NewNotInitialized(component string) *Error {
	return New(ErrorTypeState, fmt.Sprintf("%s is not initialized", component))
}

// NewBatchExecution creates the error for a batch that failed permanently
// after exhausting its retries.
func NewBatchExecution(batchIndex, attempts int, cause error) *Error {
	return Wrap(cause, ErrorTypeQuery, "batch execution failed").
		WithDetail("batch_index", batchIndex).
		WithDetail("attempts", attempts)
}

// IsRetryable returns true if the error is transient and worth retrying
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsPoolTimeout reports whether the error is a pool acquisition timeout
func IsPoolTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
