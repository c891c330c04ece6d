package chains

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// IsEVMAddress reports whether s is 0x followed by 40 hex characters
func IsEVMAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	return common.IsHexAddress(s)
}

// IsSolanaAddress reports whether s is a base58-encoded 32-byte public key
func IsSolanaAddress(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// DetectFamily guesses the chain family from the shape of an address
func DetectFamily(s string) (types.ChainFamily, bool) {
	switch {
	case IsEVMAddress(s):
		return types.ChainFamilyEVM, true
	case IsSolanaAddress(s):
		return types.ChainFamilySolana, true
	default:
		return "", false
	}
}

// ValidateAddress checks that addr is a well-formed address of the given family.
// Every failure, including an address of another family, is an invalid_address error.
func ValidateAddress(family types.ChainFamily, addr string) error {
	if addr == "" {
		return apperrors.InvalidAddress("address is required")
	}

	var ok bool
	switch family {
	case types.ChainFamilyEVM:
		ok = IsEVMAddress(addr)
	case types.ChainFamilySolana:
		ok = IsSolanaAddress(addr)
	default:
		return apperrors.UnsupportedChain(string(family))
	}
	if ok {
		return nil
	}

	if detected, known := DetectFamily(addr); known && detected != family {
		return apperrors.InvalidAddress(fmt.Sprintf("%s address given for a %s wallet", detected, family))
	}
	return apperrors.InvalidAddress(fmt.Sprintf("malformed %s address", family))
}

// NormalizeAddress returns the canonical form of addr: EIP-55 checksum for EVM,
// canonical base58 for Solana.
func NormalizeAddress(family types.ChainFamily, addr string) (string, error) {
	if err := ValidateAddress(family, addr); err != nil {
		return "", err
	}
	switch family {
	case types.ChainFamilyEVM:
		return common.HexToAddress(addr).Hex(), nil
	default:
		return solana.MustPublicKeyFromBase58(addr).String(), nil
	}
}
