package types

import (
	"fmt"
	"log/slog"
	"time"
)

// ChainFamily groups blockchains sharing an address and transaction model
type ChainFamily string

// ChainFamily constants
const (
	ChainFamilyEVM    ChainFamily = "evm"
	ChainFamilySolana ChainFamily = "solana"
)

// AllChainFamilies returns every supported chain family
func AllChainFamilies() []ChainFamily {
	return []ChainFamily{ChainFamilyEVM, ChainFamilySolana}
}

// IsValidChainFamily reports whether s names a supported chain family
func IsValidChainFamily(s string) bool {
	for _, f := range AllChainFamilies() {
		if string(f) == s {
			return true
		}
	}
	return false
}

const redacted = "[REDACTED]"

// KeyShareBundle is this system's half of a 2-of-2 threshold key, exactly as the
// custody service returned it. It is opaque: never inspect it, never log it.
type KeyShareBundle []byte

// String implements fmt.Stringer and never reveals the bundle.
func (KeyShareBundle) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v is redacted as well.
func (KeyShareBundle) GoString() string { return redacted }

// Format implements fmt.Formatter so no verb can print the raw bytes.
func (KeyShareBundle) Format(f fmt.State, _ rune) { _, _ = f.Write([]byte(redacted)) }

// LogValue implements slog.LogValuer.
func (KeyShareBundle) LogValue() slog.Value { return slog.StringValue(redacted) }

// Wipe zeroes the bundle in place.
func (b KeyShareBundle) Wipe() {
	for i := range b {
		b[i] = 0
	}
}

// Wallet is the persisted key-share row, one per (user, chain family)
type Wallet struct {
	UserID             string
	Address            string
	ChainFamily        ChainFamily
	EncryptedKeyShares string
	CreatedAt          time.Time
}

// WalletInfo is the caller-facing view of a wallet
type WalletInfo struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"`
	ChainFamily ChainFamily `json:"chain_family"`
	IsNew       bool        `json:"is_new"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
}

// TokenMetadata describes a fungible token on a given chain
type TokenMetadata struct {
	Address  string `json:"address"`
	ChainID  string `json:"chain_id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Balance is the normalized balance response for native and token queries
type Balance struct {
	Balance     string         `json:"balance"`
	Raw         string         `json:"raw"`
	ChainID     string         `json:"chain_id"`
	ChainFamily ChainFamily    `json:"chain_family"`
	Token       *TokenMetadata `json:"token,omitempty"`
}

// SignedMessage is the result of a message signing request
type SignedMessage struct {
	Signature string `json:"signed_message"`
}

// SentTransaction is the result of a successful broadcast
type SentTransaction struct {
	TransactionHash string `json:"transaction_hash"`
}
