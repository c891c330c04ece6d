package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents a classified failure surfaced to callers of the custody core.
// Code is one of the stable kinds below; Message is always safe to show to a caller.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`

	// cause is the underlying failure. It is kept for server-side logging and
	// errors.Is/As traversal and is never serialized.
	cause error
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying failure, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error kinds
const (
	ErrCodeUnsupportedChain    = "unsupported_chain"
	ErrCodeWalletNotFound      = "wallet_not_found"
	ErrCodeWalletConflict      = "wallet_conflict"
	ErrCodeInvalidAddress      = "invalid_address"
	ErrCodeInvalidCiphertext   = "invalid_ciphertext"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeInsufficientFunds   = "insufficient_funds"
	ErrCodeInvalidRequest      = "invalid_request"
	ErrCodeInternalError       = "internal_error"
)

// Sentinel values for errors.Is comparisons by kind.
var (
	ErrUnsupportedChain    = New(ErrCodeUnsupportedChain)
	ErrWalletNotFound      = New(ErrCodeWalletNotFound)
	ErrWalletConflict      = New(ErrCodeWalletConflict)
	ErrInvalidAddress      = New(ErrCodeInvalidAddress)
	ErrInvalidCiphertext   = New(ErrCodeInvalidCiphertext)
	ErrUnauthorized        = New(ErrCodeUnauthorized)
	ErrRateLimited         = New(ErrCodeRateLimited)
	ErrUpstreamUnavailable = New(ErrCodeUpstreamUnavailable)
	ErrInsufficientFunds   = New(ErrCodeInsufficientFunds)
	ErrInvalidRequest      = New(ErrCodeInvalidRequest)
	ErrInternal            = New(ErrCodeInternalError)
)

// kindMessages holds the sanitized, caller-facing message for each kind.
var kindMessages = map[string]string{
	ErrCodeUnsupportedChain:    "Chain is not supported",
	ErrCodeWalletNotFound:      "Wallet not found",
	ErrCodeWalletConflict:      "Wallet state is inconsistent with the custody service",
	ErrCodeInvalidAddress:      "Invalid address",
	ErrCodeInvalidCiphertext:   "Stored key material could not be decrypted",
	ErrCodeUnauthorized:        "Custody service rejected credentials",
	ErrCodeRateLimited:         "Upstream rate limit exceeded",
	ErrCodeUpstreamUnavailable: "Upstream service unavailable",
	ErrCodeInsufficientFunds:   "Insufficient funds",
	ErrCodeInvalidRequest:      "Invalid request parameters",
	ErrCodeInternalError:       "Internal server error",
}

var kindStatus = map[string]int{
	ErrCodeUnsupportedChain:    http.StatusBadRequest,
	ErrCodeWalletNotFound:      http.StatusNotFound,
	ErrCodeWalletConflict:      http.StatusConflict,
	ErrCodeInvalidAddress:      http.StatusBadRequest,
	ErrCodeInvalidCiphertext:   http.StatusInternalServerError,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeRateLimited:         http.StatusTooManyRequests,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,
	ErrCodeInsufficientFunds:   http.StatusBadRequest,
	ErrCodeInvalidRequest:      http.StatusBadRequest,
	ErrCodeInternalError:       http.StatusInternalServerError,
}

// New creates a new AppError of the given kind with its standard message
func New(code string) *AppError {
	return &AppError{
		Code:       code,
		Message:    messageFor(code),
		StatusCode: statusFor(code),
	}
}

// NewWithDetail creates a new AppError with additional caller-safe detail
func NewWithDetail(code, detail string) *AppError {
	err := New(code)
	err.Detail = detail
	return err
}

// Wrap creates an AppError of the given kind that keeps cause for logging.
// The cause text is never part of Error() or the serialized form.
func Wrap(code string, cause error) *AppError {
	err := New(code)
	err.cause = cause
	return err
}

// UnsupportedChain creates an unsupported chain error
func UnsupportedChain(chain string) *AppError {
	return NewWithDetail(ErrCodeUnsupportedChain, fmt.Sprintf("chain: %s", chain))
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return NewWithDetail(ErrCodeWalletNotFound, fmt.Sprintf("wallet_id: %s", walletID))
}

// WalletConflict creates a wallet conflict error for a user and chain family
func WalletConflict(userID, chainFamily string) *AppError {
	return NewWithDetail(ErrCodeWalletConflict, fmt.Sprintf("user_id: %s, chain_family: %s", userID, chainFamily))
}

// InvalidAddress creates an invalid address error
func InvalidAddress(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidAddress, detail)
}

// InvalidCiphertext creates an invalid ciphertext error. The cause is kept for logs only.
func InvalidCiphertext(cause error) *AppError {
	return Wrap(ErrCodeInvalidCiphertext, cause)
}

// InvalidRequest creates an invalid request error
func InvalidRequest(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidRequest, detail)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func messageFor(code string) string {
	if msg, ok := kindMessages[code]; ok {
		return msg
	}
	return kindMessages[ErrCodeInternalError]
}

func statusFor(code string) int {
	if status, ok := kindStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
