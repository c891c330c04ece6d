package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeUnauthorized,
				Message: "Custody service rejected credentials",
			},
			expected: "unauthorized: Custody service rejected credentials",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeInvalidAddress,
				Message: "Invalid address",
				Detail:  "expected evm address",
			},
			expected: "invalid_address: Invalid address (expected evm address)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNew(t *testing.T) {
	err := New(ErrCodeRateLimited)

	assert.Equal(t, ErrCodeRateLimited, err.Code)
	assert.Equal(t, "Upstream rate limit exceeded", err.Message)
	assert.Equal(t, http.StatusTooManyRequests, err.StatusCode)
	assert.Empty(t, err.Detail)
}

func TestNew_UnknownCode(t *testing.T) {
	err := New("something_else")

	assert.Equal(t, "something_else", err.Code)
	assert.Equal(t, "Internal server error", err.Message)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
}

func TestWrap_KeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("upstream said: secret internal detail")
	err := Wrap(ErrCodeInternalError, cause)

	assert.NotContains(t, err.Error(), "secret internal detail")
	assert.ErrorIs(t, err, cause)
}

func TestWalletNotFound(t *testing.T) {
	err := WalletNotFound("wallet-123")

	assert.Equal(t, ErrCodeWalletNotFound, err.Code)
	assert.Equal(t, "Wallet not found", err.Message)
	assert.Contains(t, err.Detail, "wallet-123")
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
}

func TestWalletConflict(t *testing.T) {
	err := WalletConflict("u1", "evm")

	assert.Equal(t, ErrCodeWalletConflict, err.Code)
	assert.Contains(t, err.Detail, "u1")
	assert.Contains(t, err.Detail, "evm")
	assert.Equal(t, http.StatusConflict, err.StatusCode)
}

func TestIsAppError(t *testing.T) {
	t.Run("returns AppError when error is AppError", func(t *testing.T) {
		originalErr := New(ErrCodeInvalidRequest)
		appErr, ok := IsAppError(originalErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})

	t.Run("returns false when error is not AppError", func(t *testing.T) {
		stdErr := errors.New("standard error")
		appErr, ok := IsAppError(stdErr)

		assert.False(t, ok)
		assert.Nil(t, appErr)
	})

	t.Run("works with wrapped errors", func(t *testing.T) {
		originalErr := New(ErrCodeInvalidRequest)
		wrappedErr := fmt.Errorf("wrapped: %w", originalErr)

		appErr, ok := IsAppError(wrappedErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})
}

func TestErrorsIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", WalletNotFound("abc"))

	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.NotErrorIs(t, err, ErrWalletConflict)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		statusCode int
	}{
		{"ErrUnsupportedChain", ErrUnsupportedChain, ErrCodeUnsupportedChain, http.StatusBadRequest},
		{"ErrWalletNotFound", ErrWalletNotFound, ErrCodeWalletNotFound, http.StatusNotFound},
		{"ErrWalletConflict", ErrWalletConflict, ErrCodeWalletConflict, http.StatusConflict},
		{"ErrInvalidAddress", ErrInvalidAddress, ErrCodeInvalidAddress, http.StatusBadRequest},
		{"ErrInvalidCiphertext", ErrInvalidCiphertext, ErrCodeInvalidCiphertext, http.StatusInternalServerError},
		{"ErrUnauthorized", ErrUnauthorized, ErrCodeUnauthorized, http.StatusUnauthorized},
		{"ErrRateLimited", ErrRateLimited, ErrCodeRateLimited, http.StatusTooManyRequests},
		{"ErrUpstreamUnavailable", ErrUpstreamUnavailable, ErrCodeUpstreamUnavailable, http.StatusBadGateway},
		{"ErrInsufficientFunds", ErrInsufficientFunds, ErrCodeInsufficientFunds, http.StatusBadRequest},
		{"ErrInternal", ErrInternal, ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.statusCode, tt.err.StatusCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []string{
		ErrCodeUnsupportedChain,
		ErrCodeWalletNotFound,
		ErrCodeWalletConflict,
		ErrCodeInvalidAddress,
		ErrCodeInvalidCiphertext,
		ErrCodeUnauthorized,
		ErrCodeRateLimited,
		ErrCodeUpstreamUnavailable,
		ErrCodeInsufficientFunds,
		ErrCodeInvalidRequest,
		ErrCodeInternalError,
	}

	uniqueCodes := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, uniqueCodes[code], "error code %s is duplicate", code)
		assert.Contains(t, kindMessages, code)
		assert.Contains(t, kindStatus, code)
		uniqueCodes[code] = true
	}
}
