package errors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// StatusCoder is implemented by upstream errors that carry an HTTP status,
// such as custody service API errors.
type StatusCoder interface {
	HTTPStatus() int
}

// Rule maps lowercase substrings and HTTP statuses of an upstream failure to a kind.
type Rule struct {
	Kind     string
	Statuses []int
	Contains []string
}

// DefaultRules is the classification table applied by Classify. Order matters:
// the first matching rule wins, so narrower signals come before broad ones.
var DefaultRules = []Rule{
	{
		Kind:     ErrCodeWalletConflict,
		Statuses: []int{http.StatusConflict},
		Contains: []string{
			"multiple wallets per chain",
			"wallet already exists",
			"account already exists",
			"you cannot create multiple wallets",
		},
	},
	{
		Kind: ErrCodeInsufficientFunds,
		Contains: []string{
			"insufficient funds",
			"insufficient balance",
			"insufficient lamports",
			"exceeds balance",
			"attempt to debit an account but found no record of a prior credit",
		},
	},
	{
		Kind:     ErrCodeRateLimited,
		Statuses: []int{http.StatusTooManyRequests},
		Contains: []string{
			"rate limit",
			"throttle",
			"too many requests",
			"quota",
			"request limit exceeded",
		},
	},
	{
		Kind:     ErrCodeUnauthorized,
		Statuses: []int{http.StatusUnauthorized, http.StatusForbidden},
		Contains: []string{
			"authentication",
			"unauthorized",
			"credential",
			"permission denied",
			"forbidden",
			"access denied",
			"invalid api token",
			"jwt",
		},
	},
	{
		Kind: ErrCodeUpstreamUnavailable,
		Statuses: []int{
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		Contains: []string{
			"network",
			"timeout",
			"timed out",
			"connection",
			"econnrefused",
			"enotfound",
			"econnreset",
			"socket",
			"dns",
			"no such host",
			"deadline exceeded",
			"unexpected eof",
		},
	},
}

// Classify turns any failure into an AppError using DefaultRules.
// Already classified errors are returned as they are.
func Classify(err error) *AppError {
	return ClassifyWith(err, DefaultRules)
}

// ClassifyWith turns any failure into an AppError using the given table.
// Unmatched failures become internal_error with the original error kept as cause.
func ClassifyWith(err error, rules []Rule) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(ErrCodeUpstreamUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Wrap(ErrCodeUpstreamUnavailable, err)
	}

	status := 0
	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.HTTPStatus()
	}
	text := strings.ToLower(err.Error())

	for _, rule := range rules {
		if rule.matches(status, text) {
			return Wrap(rule.Kind, err)
		}
	}

	if status >= http.StatusInternalServerError {
		return Wrap(ErrCodeUpstreamUnavailable, err)
	}

	return Wrap(ErrCodeInternalError, err)
}

func (r Rule) matches(status int, text string) bool {
	for _, s := range r.Statuses {
		if status == s {
			return true
		}
	}
	for _, sub := range r.Contains {
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}
