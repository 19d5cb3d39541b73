package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageFormat(t *testing.T) {
	t.Parallel()

	e := NewError(ErrAdapter, "bad response")
	assert.Equal(t, "[ADAPTER] bad response", e.Error())

	cause := errors.New("status 502")
	e = e.WithCause(cause)
	assert.Equal(t, "[ADAPTER] bad response: status 502", e.Error())
	assert.ErrorIs(t, e, cause)
}

func TestError_Builders(t *testing.T) {
	t.Parallel()

	v := NewValidationError("node %s has no step", "a")
	assert.Equal(t, ErrValidation, v.Code)
	assert.Equal(t, "node a has no step", v.Message)
	assert.False(t, v.Retryable)

	tr := NewTransientError(ErrRateLimit, "throttled")
	assert.Equal(t, ErrRateLimit, tr.Code)
	assert.True(t, tr.Retryable)

	ad := NewAdapterError("openai", "malformed body")
	assert.Equal(t, ErrAdapter, ad.Code)
	assert.Equal(t, "openai", ad.Provider)
	assert.False(t, ad.Retryable)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient timeout", NewTransientError(ErrTimeout, "x"), true},
		{"transient network", NewTransientError(ErrNetwork, "x"), true},
		{"adapter", NewAdapterError("p", "x"), false},
		{"validation", NewValidationError("x"), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain error", errors.New("x"), false},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransientError(ErrNetwork, "x")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrBudgetExceeded, GetErrorCode(NewError(ErrBudgetExceeded, "x")))
	assert.Equal(t, ErrNetwork, GetErrorCode(fmt.Errorf("wrap: %w", NewTransientError(ErrNetwork, "x"))))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, Classify(nil))
	})

	t.Run("structured error passes through", func(t *testing.T) {
		t.Parallel()
		original := NewTransientError(ErrRateLimit, "throttled")
		assert.Same(t, original, Classify(original))
	})

	t.Run("wrapped structured error unwraps", func(t *testing.T) {
		t.Parallel()
		inner := NewAdapterError("p", "x")
		got := Classify(fmt.Errorf("outer: %w", inner))
		assert.Same(t, inner, got)
	})

	t.Run("deadline exceeded becomes retryable timeout", func(t *testing.T) {
		t.Parallel()
		got := Classify(context.DeadlineExceeded)
		require.NotNil(t, got)
		assert.Equal(t, ErrTimeout, got.Code)
		assert.True(t, got.Retryable)
	})

	t.Run("cancellation is terminal", func(t *testing.T) {
		t.Parallel()
		got := Classify(context.Canceled)
		require.NotNil(t, got)
		assert.Equal(t, ErrCancelled, got.Code)
		assert.False(t, got.Retryable)
	})

	t.Run("unknown error becomes internal", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("socket reset")
		got := Classify(cause)
		require.NotNil(t, got)
		assert.Equal(t, ErrInternal, got.Code)
		assert.False(t, got.Retryable)
		assert.ErrorIs(t, got, cause)
	})
}
