// Package chains holds static chain metadata and per-family address rules.
package chains

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// Chain describes a single network the custody core can operate on
type Chain struct {
	// ID is the canonical identifier: the decimal chain id for EVM, the cluster name for Solana
	ID     string
	Family types.ChainFamily
	Name   string

	NativeSymbol   string
	NativeDecimals uint8

	// RPCURL is the endpoint used for reads and broadcasts
	RPCURL string

	// CustodyNetworkID is the network profile sent to the custody service.
	// Local development chains map onto a production-equivalent profile.
	CustodyNetworkID string

	// Aliases are extra identifiers that resolve to this chain
	Aliases []string
}

// NumericID returns the EVM chain id, or 0 for non-EVM chains
func (c *Chain) NumericID() int64 {
	if c.Family != types.ChainFamilyEVM {
		return 0
	}
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// DefaultChains returns the built-in chain table
func DefaultChains() []Chain {
	return []Chain{
		evmChain(1, "Ethereum Mainnet", "ETH", "https://cloudflare-eth.com"),
		evmChain(11155111, "Ethereum Sepolia", "ETH", "https://ethereum-sepolia-rpc.publicnode.com"),
		evmChain(42161, "Arbitrum One", "ETH", "https://arb1.arbitrum.io/rpc"),
		evmChain(421614, "Arbitrum Sepolia", "ETH", "https://sepolia-rollup.arbitrum.io/rpc"),
		evmChain(8453, "Base Mainnet", "ETH", "https://mainnet.base.org"),
		evmChain(84532, "Base Sepolia", "ETH", "https://sepolia.base.org"),
		evmChain(10, "Optimism", "ETH", "https://mainnet.optimism.io"),
		evmChain(11155420, "Optimism Sepolia", "ETH", "https://sepolia.optimism.io"),
		evmChain(137, "Polygon", "POL", "https://polygon-rpc.com"),
		evmChain(80002, "Polygon Amoy", "POL", "https://rpc-amoy.polygon.technology"),
		{
			ID:               "31337",
			Family:           types.ChainFamilyEVM,
			Name:             "Localhost",
			NativeSymbol:     "ETH",
			NativeDecimals:   18,
			RPCURL:           "http://127.0.0.1:8545",
			CustodyNetworkID: "421614",
			Aliases:          []string{"localhost", "anvil"},
		},
		solanaCluster("mainnet-beta", "Solana Mainnet", "https://api.mainnet-beta.solana.com", "solana-mainnet"),
		solanaCluster("devnet", "Solana Devnet", "https://api.devnet.solana.com", "solana-devnet"),
		solanaCluster("testnet", "Solana Testnet", "https://api.testnet.solana.com", "solana-testnet"),
		{
			ID:               "localnet",
			Family:           types.ChainFamilySolana,
			Name:             "Solana Localnet",
			NativeSymbol:     "SOL",
			NativeDecimals:   9,
			RPCURL:           "http://127.0.0.1:8899",
			CustodyNetworkID: "solana-devnet",
			Aliases:          []string{"solana-localnet"},
		},
	}
}

func evmChain(id int64, name, symbol, rpcURL string) Chain {
	s := strconv.FormatInt(id, 10)
	return Chain{
		ID:               s,
		Family:           types.ChainFamilyEVM,
		Name:             name,
		NativeSymbol:     symbol,
		NativeDecimals:   18,
		RPCURL:           rpcURL,
		CustodyNetworkID: s,
	}
}

func solanaCluster(cluster, name, rpcURL, networkID string) Chain {
	return Chain{
		ID:               cluster,
		Family:           types.ChainFamilySolana,
		Name:             name,
		NativeSymbol:     "SOL",
		NativeDecimals:   9,
		RPCURL:           rpcURL,
		CustodyNetworkID: networkID,
		Aliases:          []string{networkID},
	}
}

// Options customize a Registry
type Options struct {
	// RPCOverrides maps a chain id or alias (case-insensitive) to an RPC URL
	RPCOverrides map[string]string

	// DefaultEVM and DefaultSolana select the chain used when only a family is given
	DefaultEVM    string
	DefaultSolana string
}

// Registry resolves chain identifiers, aliases and family names to chain metadata.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	chains   map[string]*Chain
	lookup   map[string]*Chain
	defaults map[types.ChainFamily]*Chain
}

// NewRegistry creates a Registry from a chain table and options
func NewRegistry(table []Chain, opts Options) (*Registry, error) {
	r := &Registry{
		chains:   make(map[string]*Chain, len(table)),
		lookup:   make(map[string]*Chain),
		defaults: make(map[types.ChainFamily]*Chain),
	}

	for i := range table {
		c := table[i]
		c.Aliases = append([]string(nil), c.Aliases...)
		if _, exists := r.chains[c.ID]; exists {
			return nil, fmt.Errorf("duplicate chain id: %s", c.ID)
		}
		r.chains[c.ID] = &c
		for _, key := range append([]string{c.ID}, c.Aliases...) {
			key = normalizeKey(key)
			if other, exists := r.lookup[key]; exists && other.ID != c.ID {
				return nil, fmt.Errorf("chain identifier %q is ambiguous (%s, %s)", key, other.ID, c.ID)
			}
			r.lookup[key] = &c
		}
	}

	for key, url := range opts.RPCOverrides {
		if url == "" {
			continue
		}
		c, ok := r.lookup[normalizeKey(key)]
		if !ok {
			return nil, fmt.Errorf("RPC override for unknown chain: %s", key)
		}
		c.RPCURL = url
	}

	if err := r.setDefault(types.ChainFamilyEVM, opts.DefaultEVM, "421614"); err != nil {
		return nil, err
	}
	if err := r.setDefault(types.ChainFamilySolana, opts.DefaultSolana, "devnet"); err != nil {
		return nil, err
	}

	return r, nil
}

// NewDefaultRegistry creates a Registry over DefaultChains
func NewDefaultRegistry(opts Options) (*Registry, error) {
	return NewRegistry(DefaultChains(), opts)
}

func (r *Registry) setDefault(family types.ChainFamily, id, fallback string) error {
	if id == "" {
		id = fallback
	}
	c, ok := r.lookup[normalizeKey(id)]
	if !ok {
		// A custom table may not carry the built-in fallback
		if id == fallback {
			return nil
		}
		return fmt.Errorf("default %s chain %q is not registered", family, id)
	}
	if c.Family != family {
		return fmt.Errorf("default %s chain %q belongs to family %s", family, id, c.Family)
	}
	r.defaults[family] = c
	return nil
}

// Resolve maps a chain id, alias, or chain family name to a chain.
// A bare family name resolves to that family's default chain.
func (r *Registry) Resolve(idOrFamily string) (*Chain, error) {
	key := normalizeKey(idOrFamily)
	if key == "" {
		return nil, apperrors.UnsupportedChain(idOrFamily)
	}
	if types.IsValidChainFamily(key) {
		return r.Default(types.ChainFamily(key))
	}
	if c, ok := r.lookup[key]; ok {
		return c, nil
	}
	return nil, apperrors.UnsupportedChain(idOrFamily)
}

// Default returns the default chain of a family
func (r *Registry) Default(family types.ChainFamily) (*Chain, error) {
	c, ok := r.defaults[family]
	if !ok {
		return nil, apperrors.UnsupportedChain(string(family))
	}
	return c, nil
}

// List returns all chains ordered by family then id
func (r *Registry) List() []*Chain {
	out := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
