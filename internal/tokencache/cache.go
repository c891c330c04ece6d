// Package tokencache is a read-through cache of token metadata backed by the
// relational store and populated from chain RPC on a miss.
package tokencache

import (
	"context"

	"github.com/better-wallet/custody/internal/chainclient"
	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	"github.com/better-wallet/custody/pkg/types"
)

// Store is the persisted side of the cache
type Store interface {
	Get(ctx context.Context, address, chainID string) (*types.TokenMetadata, error)
	Insert(ctx context.Context, md *types.TokenMetadata) error
}

// Clients resolves chains and opens chain clients for cache misses
type Clients interface {
	Chains() *chains.Registry
	ForChain(ctx context.Context, chain *chains.Chain) (chainclient.Client, error)
}

// Cache serves token metadata keyed by (normalized address, chain id)
type Cache struct {
	store   Store
	clients Clients
}

// New creates a token metadata cache
func New(store Store, clients Clients) *Cache {
	return &Cache{store: store, clients: clients}
}

// GetTokenMetadata returns metadata for a token contract (or SPL mint) on a chain.
// Entries are immutable once written, so a hit never touches RPC.
func (c *Cache) GetTokenMetadata(ctx context.Context, contractAddress, chainID string) (*types.TokenMetadata, error) {
	chain, err := c.clients.Chains().Resolve(chainID)
	if err != nil {
		return nil, err
	}

	address, err := chains.NormalizeAddress(chain.Family, contractAddress)
	if err != nil {
		return nil, err
	}

	cached, err := c.store.Get(ctx, address, chain.ID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		metrics.RecordTokenCacheLookup(true)
		return cached, nil
	}
	metrics.RecordTokenCacheLookup(false)

	client, err := c.clients.ForChain(ctx, chain)
	if err != nil {
		return nil, err
	}

	md, err := client.TokenMetadata(ctx, address)
	if err != nil {
		return nil, err
	}
	md.Address = address
	md.ChainID = chain.ID

	// A concurrent writer may have inserted the same entry first
	if err := c.store.Insert(ctx, md); err != nil {
		logger.Warn(ctx, "failed to cache token metadata",
			"address", address,
			"chain_id", chain.ID,
			"error", err,
		)
	}
	return md, nil
}
