package app

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/better-wallet/custody/internal/chainclient"
	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	"github.com/better-wallet/custody/internal/wallet"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// TokenMetadataSource resolves token metadata, normally through the read-through cache
type TokenMetadataSource interface {
	GetTokenMetadata(ctx context.Context, contractAddress, chainID string) (*types.TokenMetadata, error)
}

// WalletService is the entry point for wallet operations. Every error it
// returns is an *errors.AppError carrying a stable kind.
type WalletService struct {
	wallets *wallet.Service
	clients wallet.Clients
	tokens  TokenMetadataSource
}

// NewWalletService creates a new wallet service
func NewWalletService(wallets *wallet.Service, clients wallet.Clients, tokens TokenMetadataSource) *WalletService {
	return &WalletService{wallets: wallets, clients: clients, tokens: tokens}
}

// GetBalanceRequest asks for a native or token balance
type GetBalanceRequest struct {
	UserID       string
	WalletID     string
	TokenAddress string // empty for the native currency
	ChainID      string // empty for the family's default chain
}

// SignMessageRequest asks for a message signature
type SignMessageRequest struct {
	UserID   string
	WalletID string
	Message  string
}

// SendTransactionRequest asks for a value transfer or contract call
type SendTransactionRequest struct {
	UserID   string
	WalletID string
	To       string
	Amount   float64
	Data     string // hex call data, EVM only
	ChainID  string
}

// ListWallets returns the user's wallets
func (s *WalletService) ListWallets(ctx context.Context, userID string) ([]*types.WalletInfo, error) {
	wallets, err := s.wallets.ListWallets(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, "list_wallets", err)
	}
	return wallets, nil
}

// CreateWallet returns the user's wallet for chain, creating it on first use
func (s *WalletService) CreateWallet(ctx context.Context, userID, chain string) (*types.WalletInfo, error) {
	info, err := s.wallets.GetOrCreateWallet(ctx, userID, chain)
	if err != nil {
		return nil, s.fail(ctx, "create_wallet", err)
	}
	return info, nil
}

// GetBalance reads the wallet's native balance, or a token balance when TokenAddress is set
func (s *WalletService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*types.Balance, error) {
	balance, err := s.getBalance(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, "get_balance", err)
	}
	return balance, nil
}

func (s *WalletService) getBalance(ctx context.Context, req *GetBalanceRequest) (*types.Balance, error) {
	w, err := s.wallets.GetWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	chain, err := s.chainFor(w, req.ChainID)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.ForChain(ctx, chain)
	if err != nil {
		return nil, err
	}

	var (
		token *types.TokenMetadata
		raw   *big.Int
	)
	if req.TokenAddress == "" {
		token = nativeToken(chain)
		raw, err = client.GetBalance(ctx, w.Address, "")
	} else {
		token, err = s.tokens.GetTokenMetadata(ctx, req.TokenAddress, chain.ID)
		if err != nil {
			return nil, err
		}
		raw, err = client.GetBalance(ctx, w.Address, token.Address)
	}
	if err != nil {
		return nil, err
	}

	return &types.Balance{
		Balance:     chainclient.FormatUnits(raw, token.Decimals),
		Raw:         raw.String(),
		ChainID:     chain.ID,
		ChainFamily: chain.Family,
		Token:       token,
	}, nil
}

// SignMessage signs an arbitrary message with the wallet's key
func (s *WalletService) SignMessage(ctx context.Context, req *SignMessageRequest) (*types.SignedMessage, error) {
	if req.Message == "" {
		return nil, s.fail(ctx, "sign_message", apperrors.InvalidRequest("message is required"))
	}

	sw, err := s.wallets.GetWalletForSigning(ctx, req.UserID, req.WalletID)
	if err != nil {
		return nil, s.fail(ctx, "sign_message", err)
	}
	defer sw.KeyShares.Wipe()

	client, err := s.clients.ForChain(ctx, sw.Chain)
	if err != nil {
		return nil, s.fail(ctx, "sign_message", err)
	}

	sig, err := client.SignMessage(ctx, sw.Wallet.Address, sw.KeyShares, req.Message)
	if err != nil {
		return nil, s.fail(ctx, "sign_message", err)
	}
	return &types.SignedMessage{Signature: sig}, nil
}

// SendTransaction transfers value (and optional EVM call data) from the wallet
func (s *WalletService) SendTransaction(ctx context.Context, req *SendTransactionRequest) (*types.SentTransaction, error) {
	hash, err := s.sendTransaction(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, "send_transaction", err)
	}
	return &types.SentTransaction{TransactionHash: hash}, nil
}

func (s *WalletService) sendTransaction(ctx context.Context, req *SendTransactionRequest) (string, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return "", apperrors.InvalidRequest("amount must be a finite number")
	}
	if req.Amount < 0 {
		return "", apperrors.InvalidRequest("amount must not be negative")
	}
	data, err := decodeCallData(req.Data)
	if err != nil {
		return "", err
	}

	w, err := s.wallets.GetWallet(ctx, req.UserID, req.WalletID)
	if err != nil {
		return "", err
	}

	// The wallet's own family decides what a valid destination looks like
	if err := chains.ValidateAddress(w.ChainFamily, req.To); err != nil {
		return "", err
	}

	chain, err := s.chainFor(w, req.ChainID)
	if err != nil {
		return "", err
	}

	keyShares, err := s.wallets.OpenKeyShares(ctx, w)
	if err != nil {
		return "", err
	}
	defer keyShares.Wipe()

	client, err := s.clients.ForChain(ctx, chain)
	if err != nil {
		return "", err
	}

	hash, err := client.SendTransaction(ctx, w.Address, keyShares, &chainclient.TransferRequest{
		To:     req.To,
		Amount: decimal.NewFromFloat(req.Amount),
		Data:   data,
	})
	if err != nil {
		return "", err
	}

	logger.Info(ctx, "transaction sent",
		"user_id", req.UserID,
		"wallet_id", req.WalletID,
		"chain_id", chain.ID,
		"transaction_hash", hash,
	)
	return hash, nil
}

// chainFor picks the chain an operation runs on: the requested chain when given,
// otherwise the default chain of the wallet's family.
func (s *WalletService) chainFor(w *types.Wallet, chainID string) (*chains.Chain, error) {
	registry := s.clients.Chains()
	if chainID == "" {
		return registry.Default(w.ChainFamily)
	}

	chain, err := registry.Resolve(chainID)
	if err != nil {
		return nil, err
	}
	if chain.Family != w.ChainFamily {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeUnsupportedChain,
			fmt.Sprintf("chain %s is not a %s chain", chain.ID, w.ChainFamily))
	}
	return chain, nil
}

// fail classifies err at the service boundary. Unclassified failures are logged
// in full here since callers only receive the sanitized kind.
func (s *WalletService) fail(ctx context.Context, operation string, err error) error {
	appErr := apperrors.Classify(err)
	if appErr.Code == apperrors.ErrCodeInternalError {
		logger.Error(ctx, "unclassified failure", "operation", operation, "error", err)
	} else {
		logger.Debug(ctx, "operation failed", "operation", operation, "kind", appErr.Code, "error", err)
	}
	metrics.RecordError(operation, appErr.Code)
	return appErr
}

func nativeToken(chain *chains.Chain) *types.TokenMetadata {
	return &types.TokenMetadata{
		ChainID:  chain.ID,
		Name:     chain.Name + " Native Token",
		Symbol:   chain.NativeSymbol,
		Decimals: chain.NativeDecimals,
	}
}

func decodeCallData(data string) ([]byte, error) {
	if data == "" || data == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(data, "0x") && !strings.HasPrefix(data, "0X") {
		data = "0x" + data
	}
	out, err := hexutil.Decode(data)
	if err != nil {
		return nil, apperrors.InvalidRequest("data must be hex encoded")
	}
	return out, nil
}
