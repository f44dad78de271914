package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrorTypeConnection, "backend unreachable")
	assert.Equal(t, "connection: backend unreachable", err.Error())

	wrapped := Wrap(fmt.Errorf("dial tcp: refused"), ErrorTypeConnection, "open failed")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
	assert.NotNil(t, wrapped.Unwrap())
}

func TestWrapNil(t *testing.T) {
	var e *Error = Wrap(nil, ErrorTypeQuery, "ignored")
	assert.Nil(t, e)
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "t")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "c")))
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "r")))
	assert.False(t, IsRetryable(New(ErrorTypeQuery, "q")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "v")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestPoolTimeout(t *testing.T) {
	err := NewPoolTimeout(250 * time.Millisecond)
	require.True(t, IsPoolTimeout(err))
	assert.Equal(t, "250ms", err.Details["waited"])
}

func TestBatchExecutionPreservesCause(t *testing.T) {
	cause := New(ErrorTypeConnection, "reset by peer")
	err := NewBatchExecution(3, 4, cause)

	assert.True(t, IsType(err, ErrorTypeQuery))
	assert.Equal(t, 3, err.Details["batch_index"])
	assert.Equal(t, 4, err.Details["attempts"])
	// The wrapped transient cause must stay reachable for callers.
	assert.True(t, IsRetryable(cause))
	assert.False(t, IsRetryable(err))
}

func TestNotInitialized(t *testing.T) {
	err := NewNotInitialized("scheduler")
	assert.True(t, IsType(err, ErrorTypeState))
	assert.Contains(t, err.Error(), "scheduler is not initialized")
}
