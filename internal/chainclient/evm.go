package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/custody"
	"github.com/better-wallet/custody/internal/eth"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	"github.com/better-wallet/custody/pkg/types"
)

// EVMClient implements Client for EVM chains
type EVMClient struct {
	chain  *chains.Chain
	rpc    *eth.Client
	signer custody.Signer
}

// NewEVMClient creates an EVM chain client
func NewEVMClient(chain *chains.Chain, rpc *eth.Client, signer custody.Signer) *EVMClient {
	return &EVMClient{chain: chain, rpc: rpc, signer: signer}
}

// Family reports the EVM chain family
func (c *EVMClient) Family() types.ChainFamily { return types.ChainFamilyEVM }
func (c *EVMClient) Chain() *chains.Chain     { return c.chain }

// CreateAccount asks the custody service for a new EVM account owned by userID
func (c *EVMClient) CreateAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := c.signer.CreateAccount(ctx, &custody.CreateAccountRequest{
		ChainName:                  custody.ChainNameEVM,
		NetworkID:                  c.chain.CustodyNetworkID,
		UserID:                     userID,
		ThresholdSignatureScheme:   custody.ThresholdTwoOfTwo,
		BackUpToClientShareService: false,
	})
	if err != nil {
		return nil, err
	}

	address, err := chains.NormalizeAddress(types.ChainFamilyEVM, acct.Address)
	if err != nil {
		return nil, fmt.Errorf("custody returned an invalid EVM address: %w", err)
	}
	return &Account{Address: address, KeyShares: acct.KeyShares}, nil
}

// GetBalance returns the native balance in wei, or the ERC-20 balance of token
// in its smallest unit when token is set
func (c *EVMClient) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if err := chains.ValidateAddress(types.ChainFamilyEVM, address); err != nil {
		return nil, err
	}
	owner := common.HexToAddress(address)

	if token == "" {
		return c.rpc.GetBalance(ctx, owner)
	}
	if err := chains.ValidateAddress(types.ChainFamilyEVM, token); err != nil {
		return nil, err
	}
	return c.rpc.TokenBalance(ctx, common.HexToAddress(token), owner)
}

// SignMessage signs message with the account's key shares through the custody service
func (c *EVMClient) SignMessage(ctx context.Context, address string, keyShares types.KeyShareBundle, message string) (string, error) {
	sig, err := c.signer.Sign(ctx, &custody.SignRequest{
		ChainName: custody.ChainNameEVM,
		Kind:      custody.SignKindMessage,
		Address:   address,
		NetworkID: c.chain.CustodyNetworkID,
		Payload:   message,
		KeyShares: keyShares,
	})
	if err != nil {
		return "", err
	}
	return sig.Signature, nil
}

// SendTransaction builds an EIP-1559 transaction, has the custody service sign
// it and broadcasts the result.
func (c *EVMClient) SendTransaction(ctx context.Context, address string, keyShares types.KeyShareBundle, req *TransferRequest) (string, error) {
	if err := validateTransfer(types.ChainFamilyEVM, req); err != nil {
		return "", err
	}
	value, err := ToBaseUnits(req.Amount, c.chain.NativeDecimals)
	if err != nil {
		return "", err
	}

	from := common.HexToAddress(address)
	to := common.HexToAddress(req.To)

	nonce, err := c.rpc.GetNonce(ctx, from)
	if err != nil {
		return "", err
	}
	tipCap, feeCap, err := c.rpc.SuggestFees(ctx)
	if err != nil {
		return "", err
	}
	gas, err := c.rpc.EstimateGas(ctx, from, &to, value, req.Data)
	if err != nil {
		return "", err
	}

	unsigned := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.rpc.ChainIDBig(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	raw, err := unsigned.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	sig, err := c.signer.Sign(ctx, &custody.SignRequest{
		ChainName: custody.ChainNameEVM,
		Kind:      custody.SignKindTransaction,
		Address:   address,
		NetworkID: c.chain.CustodyNetworkID,
		Payload:   hexutil.Encode(raw),
		KeyShares: keyShares,
	})
	if err != nil {
		return "", err
	}

	signed, err := c.decodeSigned(sig.SignedTransaction, unsigned, from)
	if err != nil {
		return "", err
	}

	hash, err := c.rpc.SendRawTransaction(ctx, signed)
	if err != nil {
		metrics.RecordTransactionSent(c.chain.ID, "failed")
		return "", err
	}
	metrics.RecordTransactionSent(c.chain.ID, "success")
	logger.Info(ctx, "transaction broadcast", "chain", c.chain.ID, "from", from.Hex(), "hash", hash)
	return hash, nil
}

// decodeSigned checks that the custody service signed exactly the transaction we built
func (c *EVMClient) decodeSigned(signedHex string, unsigned *ethtypes.Transaction, from common.Address) (*ethtypes.Transaction, error) {
	raw, err := hexutil.Decode(signedHex)
	if err != nil {
		return nil, fmt.Errorf("custody returned a malformed signed transaction: %w", err)
	}

	signed := new(ethtypes.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("custody returned a malformed signed transaction: %w", err)
	}

	signer := ethtypes.LatestSignerForChainID(c.rpc.ChainIDBig())
	if signer.Hash(signed) != signer.Hash(unsigned) {
		return nil, fmt.Errorf("custody signed a different transaction")
	}
	sender, err := ethtypes.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to recover transaction sender: %w", err)
	}
	if sender != from {
		return nil, fmt.Errorf("transaction signed by %s, expected %s", sender.Hex(), from.Hex())
	}
	return signed, nil
}

// TokenMetadata reads name, symbol and decimals from an ERC-20 contract
func (c *EVMClient) TokenMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	addr, err := chains.NormalizeAddress(types.ChainFamilyEVM, token)
	if err != nil {
		return nil, err
	}
	info, err := c.rpc.TokenMetadata(ctx, common.HexToAddress(addr))
	if err != nil {
		return nil, err
	}
	return &types.TokenMetadata{
		Address:  addr,
		ChainID:  c.chain.ID,
		Name:     info.Name,
		Symbol:   info.Symbol,
		Decimals: info.Decimals,
	}, nil
}

var _ Client = (*EVMClient)(nil)
