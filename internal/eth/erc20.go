package eth

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Some early tokens return bytes32 for name and symbol
const bytes32ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

var (
	erc20ABI   = mustParseABI(erc20ABIJSON)
	bytes32ABI = mustParseABI(bytes32ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// TokenInfo is the on-chain metadata of an ERC-20 contract
type TokenInfo struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// TokenBalance returns the ERC-20 balance of owner in base units
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", out[0])
	}
	return balance, nil
}

// TokenMetadata reads name, symbol and decimals concurrently
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (*TokenInfo, error) {
	info := &TokenInfo{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		name, err := c.stringField(gctx, token, "name")
		info.Name = name
		return err
	})
	g.Go(func() error {
		symbol, err := c.stringField(gctx, token, "symbol")
		info.Symbol = symbol
		return err
	})
	g.Go(func() error {
		out, err := c.call(gctx, token, erc20ABI, "decimals")
		if err != nil {
			return fmt.Errorf("decimals: %w", err)
		}
		d, ok := out[0].(uint8)
		if !ok {
			return fmt.Errorf("unexpected decimals result type %T", out[0])
		}
		info.Decimals = d
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read token metadata: %w", err)
	}
	return info, nil
}

func (c *Client) stringField(ctx context.Context, token common.Address, method string) (string, error) {
	raw, err := c.rawCall(ctx, token, erc20ABI, method)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}

	if out, err := erc20ABI.Unpack(method, raw); err == nil {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	}

	out, err := bytes32ABI.Unpack(method, raw)
	if err != nil {
		return "", fmt.Errorf("%s: cannot decode result: %w", method, err)
	}
	b, ok := out[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return string(bytes.TrimRight(b[:], "\x00")), nil
}

func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	raw, err := c.rawCall(ctx, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *Client) rawCall(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no contract code at %s", contract.Hex())
	}
	return raw, nil
}
