package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wallet already exists", errors.New("Wallet already exists for this chain"), ErrCodeWalletConflict},
		{"multiple wallets per chain", errors.New("You cannot create multiple wallets per chain"), ErrCodeWalletConflict},
		{"conflict status", &statusErr{status: 409, msg: "conflict"}, ErrCodeWalletConflict},
		{"insufficient funds evm", errors.New("insufficient funds for gas * price + value"), ErrCodeInsufficientFunds},
		{"insufficient lamports", errors.New("Transfer: insufficient lamports 10, need 20"), ErrCodeInsufficientFunds},
		{"rate limit text", errors.New("Rate limit reached, try later"), ErrCodeRateLimited},
		{"rate limit status", &statusErr{status: 429, msg: "slow down"}, ErrCodeRateLimited},
		{"request limit exceeded", errors.New("Request limit exceeded for this key"), ErrCodeRateLimited},
		{"gas limit exceeded", errors.New("gas limit exceeded"), ErrCodeInternalError},
		{"block gas limit", errors.New("exceeds block gas limit"), ErrCodeInternalError},
		{"unauthorized text", errors.New("Unauthorized: invalid api token"), ErrCodeUnauthorized},
		{"forbidden status", &statusErr{status: 403, msg: "nope"}, ErrCodeUnauthorized},
		{"network text", errors.New("dial tcp: lookup rpc.example: no such host"), ErrCodeUpstreamUnavailable},
		{"econnrefused", errors.New("connect ECONNREFUSED 127.0.0.1:8545"), ErrCodeUpstreamUnavailable},
		{"5xx status", &statusErr{status: 500, msg: "boom"}, ErrCodeUpstreamUnavailable},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrCodeUpstreamUnavailable},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrCodeUpstreamUnavailable},
		{"unmatched", errors.New("something odd happened"), ErrCodeInternalError},
		{"4xx unmatched", &statusErr{status: 422, msg: "unprocessable"}, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Code)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_PassesThroughAppError(t *testing.T) {
	original := InvalidAddress("expected evm address")
	got := Classify(fmt.Errorf("dispatch: %w", original))

	assert.Same(t, original, got)
}

func TestClassify_SanitizesMessage(t *testing.T) {
	raw := errors.New("rpc error: connection reset; api key sk_live_abc leaked")
	got := Classify(raw)

	assert.Equal(t, ErrCodeUpstreamUnavailable, got.Code)
	assert.NotContains(t, got.Error(), "sk_live_abc")
	assert.ErrorIs(t, got, raw)
}

func TestClassifyWith_CustomTable(t *testing.T) {
	rules := []Rule{{Kind: ErrCodeInvalidAddress, Contains: []string{"bad checksum"}}}

	assert.Equal(t, ErrCodeInvalidAddress, ClassifyWith(errors.New("Bad checksum"), rules).Code)
	assert.Equal(t, ErrCodeInternalError, ClassifyWith(errors.New("rate limit"), rules).Code)
}
