package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the RPC surface the client needs. Both *ethclient.Client and the
// simulated backend's client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client wraps an Ethereum RPC client
type Client struct {
	backend Backend
	chainID *big.Int
	closer  func()
}

// Dial connects to rpcURL and auto-detects the chain ID
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	c, err := NewClient(ctx, rpc)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close
	return c, nil
}

// NewClient wraps an existing backend and auto-detects its chain ID
func NewClient(ctx context.Context, backend Backend) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		backend: backend,
		chainID: chainID,
	}, nil
}

// ChainID returns the chain ID
func (c *Client) ChainID() int64 {
	return c.chainID.Int64()
}

// ChainIDBig returns the chain ID as big.Int
func (c *Client) ChainIDBig() *big.Int {
	return c.chainID
}

// GetBalance returns the balance of an address in wei
func (c *Client) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetNonce returns the next nonce for an address
func (c *Client) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// EstimateGas estimates the gas needed for a transaction
func (c *Client) EstimateGas(ctx context.Context, from common.Address, to *common.Address, value *big.Int, data []byte) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// Add 20% buffer
	return gas * 120 / 100, nil
}

// SuggestFees returns the EIP-1559 tip cap and a fee cap of twice the
// latest base fee plus the tip.
func (c *Client) SuggestFees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)
	return tipCap, feeCap, nil
}

// SendRawTransaction broadcasts a signed transaction to the network
func (c *Client) SendRawTransaction(ctx context.Context, signedTx *types.Transaction) (string, error) {
	err := c.backend.SendTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}
