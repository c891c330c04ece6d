// Package wallet owns the wallet lifecycle: idempotent provisioning of one
// custody account per (user, chain family), deterministic wallet ids and
// key-share retrieval for signing.
package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/better-wallet/custody/internal/chainclient"
	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// walletNamespace scopes name-based wallet ids
var walletNamespace = uuid.MustParse("3d1f6a52-9c0e-4b7a-8f21-5e6d7c8b9a01")

// DeriveWalletID computes the stable id of a wallet from its natural key
func DeriveWalletID(userID, address string, family types.ChainFamily) string {
	name := strings.Join([]string{userID, address, string(family)}, ":")
	return uuid.NewSHA1(walletNamespace, []byte(name)).String()
}

// Store persists wallet rows
type Store interface {
	Upsert(ctx context.Context, wallet *types.Wallet) (stored *types.Wallet, inserted bool, err error)
	GetByUserAndFamily(ctx context.Context, userID string, family types.ChainFamily) (*types.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]*types.Wallet, error)
}

// Vault encrypts key-share bundles at rest
type Vault interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(blob string) ([]byte, error)
}

// Clients resolves chains and opens chain clients
type Clients interface {
	Chains() *chains.Registry
	ForChain(ctx context.Context, chain *chains.Chain) (chainclient.Client, error)
}

// Service provisions and looks up wallets
type Service struct {
	store   Store
	vault   Vault
	clients Clients
}

// NewService creates a wallet service
func NewService(store Store, vault Vault, clients Clients) *Service {
	return &Service{store: store, vault: vault, clients: clients}
}

// SigningWallet is a wallet with its decrypted key shares. KeyShares must be
// wiped by the caller once the operation that needs them completes.
type SigningWallet struct {
	ID        string
	Wallet    *types.Wallet
	Chain     *chains.Chain
	KeyShares types.KeyShareBundle
}

// GetOrCreateWallet returns the user's wallet for the chain's family,
// provisioning it with the custody service if none exists. chain is a chain
// family, a chain id or an alias; family-only input uses the default chain.
//
// Creation is query, create, then re-query when the custody service reports the
// account already exists, so concurrent callers converge on one row without a lock.
func (s *Service) GetOrCreateWallet(ctx context.Context, userID, chain string) (*types.WalletInfo, error) {
	if userID == "" {
		return nil, apperrors.InvalidRequest("user id is required")
	}

	resolved, err := s.clients.Chains().Resolve(chain)
	if err != nil {
		return nil, err
	}
	family := resolved.Family
	label := string(family)

	existing, err := s.store.GetByUserAndFamily(ctx, userID, family)
	if err != nil {
		metrics.RecordWalletProvisioning(label, "failed")
		return nil, err
	}
	if existing != nil {
		metrics.RecordWalletProvisioning(label, "existing")
		return toInfo(existing, false), nil
	}

	client, err := s.clients.ForChain(ctx, resolved)
	if err != nil {
		metrics.RecordWalletProvisioning(label, "failed")
		return nil, err
	}

	account, err := client.CreateAccount(ctx, userID)
	if err != nil {
		if apperrors.Classify(err).Code != apperrors.ErrCodeWalletConflict {
			metrics.RecordWalletProvisioning(label, "failed")
			return nil, err
		}
		return s.recoverFromConflict(ctx, userID, family, err)
	}
	defer account.KeyShares.Wipe()

	encrypted, err := s.vault.Encrypt(account.KeyShares)
	if err != nil {
		metrics.RecordWalletProvisioning(label, "failed")
		return nil, fmt.Errorf("failed to encrypt key shares: %w", err)
	}

	stored, inserted, err := s.store.Upsert(ctx, &types.Wallet{
		UserID:             userID,
		Address:            account.Address,
		ChainFamily:        family,
		EncryptedKeyShares: encrypted,
	})
	if err != nil {
		metrics.RecordWalletProvisioning(label, "failed")
		return nil, err
	}

	// The custody service handed back an account another caller already stored
	if !inserted {
		metrics.RecordWalletProvisioning(label, "existing")
		return toInfo(stored, false), nil
	}

	metrics.RecordWalletProvisioning(label, "created")
	logger.Info(ctx, "wallet provisioned",
		"user_id", userID,
		"chain_family", label,
		"chain_id", resolved.ID,
		"address", stored.Address,
	)
	return toInfo(stored, true), nil
}

// recoverFromConflict handles a lost creation race: another caller created the
// custody account and is expected to have stored its row.
func (s *Service) recoverFromConflict(ctx context.Context, userID string, family types.ChainFamily, cause error) (*types.WalletInfo, error) {
	existing, err := s.store.GetByUserAndFamily(ctx, userID, family)
	if err != nil {
		metrics.RecordWalletProvisioning(string(family), "failed")
		return nil, err
	}
	if existing != nil {
		metrics.RecordWalletProvisioning(string(family), "recovered")
		return toInfo(existing, false), nil
	}

	metrics.RecordWalletProvisioning(string(family), "conflict")
	logger.Error(ctx, "custody account exists without stored key shares",
		"user_id", userID,
		"chain_family", string(family),
		"error", cause,
	)
	return nil, apperrors.WalletConflict(userID, string(family))
}

// ListWallets returns all wallets the user owns
func (s *Service) ListWallets(ctx context.Context, userID string) ([]*types.WalletInfo, error) {
	if userID == "" {
		return nil, apperrors.InvalidRequest("user id is required")
	}

	wallets, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.WalletInfo, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toInfo(w, false))
	}
	return out, nil
}

// GetWallet finds the user's wallet by id without touching its key shares
func (s *Service) GetWallet(ctx context.Context, userID, walletID string) (*types.Wallet, error) {
	wallets, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, w := range wallets {
		if DeriveWalletID(w.UserID, w.Address, w.ChainFamily) == walletID {
			return w, nil
		}
	}
	return nil, apperrors.WalletNotFound(walletID)
}

// OpenKeyShares decrypts the wallet's key-share bundle
func (s *Service) OpenKeyShares(ctx context.Context, w *types.Wallet) (types.KeyShareBundle, error) {
	keyShares, err := s.vault.Decrypt(w.EncryptedKeyShares)
	if err != nil {
		logger.Error(ctx, "failed to decrypt key shares",
			"user_id", w.UserID,
			"chain_family", string(w.ChainFamily),
			"error", err,
		)
		return nil, err
	}
	return keyShares, nil
}

// GetWalletForSigning finds the user's wallet by id and decrypts its key shares
func (s *Service) GetWalletForSigning(ctx context.Context, userID, walletID string) (*SigningWallet, error) {
	w, err := s.GetWallet(ctx, userID, walletID)
	if err != nil {
		return nil, err
	}

	chain, err := s.clients.Chains().Default(w.ChainFamily)
	if err != nil {
		return nil, err
	}

	keyShares, err := s.OpenKeyShares(ctx, w)
	if err != nil {
		return nil, err
	}

	return &SigningWallet{
		ID:        walletID,
		Wallet:    w,
		Chain:     chain,
		KeyShares: keyShares,
	}, nil
}

func toInfo(w *types.Wallet, isNew bool) *types.WalletInfo {
	return &types.WalletInfo{
		ID:          DeriveWalletID(w.UserID, w.Address, w.ChainFamily),
		Address:     w.Address,
		ChainFamily: w.ChainFamily,
		IsNew:       isNew,
		CreatedAt:   w.CreatedAt,
	}
}
