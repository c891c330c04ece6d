// Package chainclient implements the per-family wallet capabilities
// (create account, read balance, sign message, send transaction) on top of
// the custody service for signing and chain RPC for reads and broadcasts.
package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/better-wallet/custody/internal/chains"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// Account is a newly provisioned custody account
type Account struct {
	Address   string
	KeyShares types.KeyShareBundle
}

// TransferRequest describes a value transfer and optional call data
type TransferRequest struct {
	To     string
	Amount decimal.Decimal
	Data   []byte
}

// Client is the capability set implemented once per chain family
type Client interface {
	Family() types.ChainFamily
	Chain() *chains.Chain

	CreateAccount(ctx context.Context, userID string) (*Account, error)

	// GetBalance returns the native balance when token is empty, else the token balance, in base units
	GetBalance(ctx context.Context, address, token string) (*big.Int, error)

	SignMessage(ctx context.Context, address string, keyShares types.KeyShareBundle, message string) (string, error)
	SendTransaction(ctx context.Context, address string, keyShares types.KeyShareBundle, req *TransferRequest) (string, error)

	// TokenMetadata reads token metadata from chain
	TokenMetadata(ctx context.Context, token string) (*types.TokenMetadata, error)
}

// ToBaseUnits converts a decimal amount to integer base units.
// Negative amounts and amounts finer than the smallest unit are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, apperrors.InvalidRequest("amount must not be negative")
	}

	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("amount has more than %d decimal places", decimals))
	}
	return shifted.BigInt(), nil
}

// FormatUnits renders base units as a decimal string with the given decimals
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}

func validateTransfer(family types.ChainFamily, req *TransferRequest) error {
	if req == nil {
		return apperrors.InvalidRequest("transfer is required")
	}
	if err := chains.ValidateAddress(family, req.To); err != nil {
		return err
	}
	if req.Amount.IsNegative() {
		return apperrors.InvalidRequest("amount must not be negative")
	}
	return nil
}
