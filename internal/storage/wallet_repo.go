package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// WalletRepository persists encrypted key-share rows, one per (user, chain family)
type WalletRepository struct {
	db DBTX
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `user_id, address, chain_family, encrypted_key_shares, created_at`

// Upsert inserts the wallet row and reports whether this call inserted it.
// If the user already has a wallet for the family, the stored row is returned
// unchanged with inserted false; a stored row with a different address fails
// with WalletConflict.
func (r *WalletRepository) Upsert(ctx context.Context, wallet *types.Wallet) (*types.Wallet, bool, error) {
	query := `
		INSERT INTO key_shares (user_id, address, chain_family, encrypted_key_shares)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chain_family)
		DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + walletColumns + `, (xmax = 0) AS inserted`

	var (
		stored   types.Wallet
		family   string
		inserted bool
	)
	err := r.db.QueryRow(ctx, query,
		wallet.UserID,
		wallet.Address,
		string(wallet.ChainFamily),
		wallet.EncryptedKeyShares,
	).Scan(
		&stored.UserID,
		&stored.Address,
		&family,
		&stored.EncryptedKeyShares,
		&stored.CreatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert wallet: %w", err)
	}
	stored.ChainFamily = types.ChainFamily(family)

	if stored.Address != wallet.Address {
		return nil, false, apperrors.WalletConflict(wallet.UserID, string(wallet.ChainFamily))
	}
	return &stored, inserted, nil
}

// GetByUserAndFamily returns the user's wallet for a chain family, or nil if none exists
func (r *WalletRepository) GetByUserAndFamily(ctx context.Context, userID string, family types.ChainFamily) (*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM key_shares WHERE user_id = $1 AND chain_family = $2`

	wallet, err := scanWallet(r.db.QueryRow(ctx, query, userID, string(family)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// ListByUser returns every wallet the user owns, oldest first
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM key_shares WHERE user_id = $1 ORDER BY created_at ASC, chain_family ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	return wallets, rows.Err()
}

func scanWallet(row pgx.Row) (*types.Wallet, error) {
	var wallet types.Wallet
	var family string
	if err := row.Scan(
		&wallet.UserID,
		&wallet.Address,
		&family,
		&wallet.EncryptedKeyShares,
		&wallet.CreatedAt,
	); err != nil {
		return nil, err
	}
	wallet.ChainFamily = types.ChainFamily(family)
	return &wallet, nil
}
