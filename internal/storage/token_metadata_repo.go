package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody/pkg/types"
)

// ErrTokenMetadataExists is returned when a cache entry for the same token was already written
var ErrTokenMetadataExists = errors.New("token metadata already exists")

// TokenMetadataRepository stores immutable token metadata keyed by (address, chain id)
type TokenMetadataRepository struct {
	db DBTX
}

// NewTokenMetadataRepository creates a new TokenMetadataRepository
func NewTokenMetadataRepository(db DBTX) *TokenMetadataRepository {
	return &TokenMetadataRepository{db: db}
}

// Get returns the cached metadata, or nil if the token has not been seen
func (r *TokenMetadataRepository) Get(ctx context.Context, address, chainID string) (*types.TokenMetadata, error) {
	query := `
		SELECT address, chain_id, name, symbol, decimals
		FROM token_metadata
		WHERE address = $1 AND chain_id = $2
	`

	var md types.TokenMetadata
	var decimals int16
	err := r.db.QueryRow(ctx, query, address, chainID).Scan(
		&md.Address,
		&md.ChainID,
		&md.Name,
		&md.Symbol,
		&decimals,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token metadata: %w", err)
	}
	md.Decimals = uint8(decimals)
	return &md, nil
}

// Insert writes a new entry. Entries are never updated.
func (r *TokenMetadataRepository) Insert(ctx context.Context, md *types.TokenMetadata) error {
	query := `
		INSERT INTO token_metadata (address, chain_id, name, symbol, decimals)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, md.Address, md.ChainID, md.Name, md.Symbol, int16(md.Decimals))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s on %s", ErrTokenMetadataExists, md.Address, md.ChainID)
		}
		return fmt.Errorf("failed to insert token metadata: %w", err)
	}
	return nil
}
