package chainclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/singleflight"

	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/custody"
	"github.com/better-wallet/custody/internal/eth"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// EVMDialer opens an RPC connection for an EVM chain
type EVMDialer func(ctx context.Context, chain *chains.Chain) (*eth.Client, error)

// SolanaDialer opens an RPC connection for a Solana cluster
type SolanaDialer func(chain *chains.Chain) SolanaRPC

// DialEVM connects to the chain's configured RPC endpoint and checks that the
// endpoint serves that chain
func DialEVM(ctx context.Context, chain *chains.Chain) (*eth.Client, error) {
	client, err := eth.Dial(ctx, chain.RPCURL)
	if err != nil {
		return nil, err
	}
	if got := client.ChainID(); got != chain.NumericID() {
		client.Close()
		return nil, fmt.Errorf("rpc endpoint for chain %s reports chain id %d", chain.ID, got)
	}
	return client, nil
}

// DialSolana creates a JSON-RPC client for the chain's configured endpoint
func DialSolana(chain *chains.Chain) SolanaRPC {
	return rpc.New(chain.RPCURL)
}

// Registry hands out one chain client per chain, created on first use and shared afterwards
type Registry struct {
	chains     *chains.Registry
	signer     custody.Signer
	dialEVM    EVMDialer
	dialSolana SolanaDialer
	solanaOpts SolanaOptions

	mu      sync.Mutex
	clients map[string]Client
	dials   singleflight.Group
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithEVMDialer overrides how EVM RPC connections are opened
func WithEVMDialer(d EVMDialer) RegistryOption {
	return func(r *Registry) { r.dialEVM = d }
}

// WithSolanaDialer overrides how Solana RPC clients are created
func WithSolanaDialer(d SolanaDialer) RegistryOption {
	return func(r *Registry) { r.dialSolana = d }
}

// WithSolanaOptions sets confirmation behaviour for Solana clients
func WithSolanaOptions(opts SolanaOptions) RegistryOption {
	return func(r *Registry) { r.solanaOpts = opts }
}

// NewRegistry creates a client registry
func NewRegistry(chainRegistry *chains.Registry, signer custody.Signer, opts ...RegistryOption) *Registry {
	r := &Registry{
		chains:     chainRegistry,
		signer:     signer,
		dialEVM:    DialEVM,
		dialSolana: DialSolana,
		clients:    make(map[string]Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chains returns the chain registry clients are resolved against
func (r *Registry) Chains() *chains.Registry {
	return r.chains
}

// ForChain returns the client for chain, dialling it on first use.
// Concurrent first uses of one chain share a single dial; other chains are
// never held up by it. A failed dial is not cached.
func (r *Registry) ForChain(ctx context.Context, chain *chains.Chain) (Client, error) {
	if c, ok := r.cached(chain.ID); ok {
		return c, nil
	}

	v, err, _ := r.dials.Do(chain.ID, func() (any, error) {
		if c, ok := r.cached(chain.ID); ok {
			return c, nil
		}

		c, err := r.dial(ctx, chain)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.clients[chain.ID] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (r *Registry) cached(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) dial(ctx context.Context, chain *chains.Chain) (Client, error) {
	switch chain.Family {
	case types.ChainFamilyEVM:
		rpcClient, err := r.dialEVM(ctx, chain)
		if err != nil {
			return nil, err
		}
		return NewEVMClient(chain, rpcClient, r.signer), nil
	case types.ChainFamilySolana:
		return NewSolanaClient(chain, r.dialSolana(chain), r.signer, r.solanaOpts), nil
	}
	return nil, apperrors.UnsupportedChain(chain.ID)
}

// Close releases RPC connections held by EVM clients
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.clients {
		if evm, ok := c.(*EVMClient); ok {
			evm.rpc.Close()
		}
		delete(r.clients, id)
	}
}
