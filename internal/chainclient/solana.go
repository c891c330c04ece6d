package chainclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/custody"
	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

// SolanaRPC is the subset of the Solana JSON-RPC client used here
type SolanaRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

// SolanaOptions tune transaction confirmation
type SolanaOptions struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// SolanaClient implements Client for Solana clusters
type SolanaClient struct {
	chain  *chains.Chain
	rpc    SolanaRPC
	signer custody.Signer
	opts   SolanaOptions
}

// NewSolanaClient creates a Solana chain client
func NewSolanaClient(chain *chains.Chain, client SolanaRPC, signer custody.Signer, opts SolanaOptions) *SolanaClient {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &SolanaClient{chain: chain, rpc: client, signer: signer, opts: opts}
}

// Family reports the Solana chain family
func (c *SolanaClient) Family() types.ChainFamily { return types.ChainFamilySolana }
func (c *SolanaClient) Chain() *chains.Chain     { return c.chain }

// CreateAccount asks the custody service for a new Solana account owned by userID
func (c *SolanaClient) CreateAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := c.signer.CreateAccount(ctx, &custody.CreateAccountRequest{
		ChainName:                  custody.ChainNameSolana,
		NetworkID:                  c.chain.CustodyNetworkID,
		UserID:                     userID,
		ThresholdSignatureScheme:   custody.ThresholdTwoOfTwo,
		BackUpToClientShareService: false,
	})
	if err != nil {
		return nil, err
	}

	if err := chains.ValidateAddress(types.ChainFamilySolana, acct.Address); err != nil {
		return nil, fmt.Errorf("custody returned an invalid Solana address: %w", err)
	}
	return &Account{Address: acct.Address, KeyShares: acct.KeyShares}, nil
}

// GetBalance returns the balance in lamports, or the SPL token balance of the
// owner's associated token account when token is set
func (c *SolanaClient) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	owner, err := parsePublicKey(address)
	if err != nil {
		return nil, err
	}

	if token == "" {
		res, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return new(big.Int).SetUint64(res.Value), nil
	}

	mint, err := parsePublicKey(token)
	if err != nil {
		return nil, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find associated token account: %w", err)
	}

	res, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// No token account yet means a zero balance
		if isMissingAccount(err) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	if res.Value == nil {
		return big.NewInt(0), nil
	}

	amount, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", res.Value.Amount)
	}
	return amount, nil
}

// SignMessage signs message with the account's key shares through the custody service
func (c *SolanaClient) SignMessage(ctx context.Context, address string, keyShares types.KeyShareBundle, message string) (string, error) {
	sig, err := c.signer.Sign(ctx, &custody.SignRequest{
		ChainName: custody.ChainNameSolana,
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

// SendTransaction builds a system transfer, has the custody service sign it,
// submits it and waits for confirmation.
func (c *SolanaClient) SendTransaction(ctx context.Context, address string, keyShares types.KeyShareBundle, req *TransferRequest) (string, error) {
	if err := validateTransfer(types.ChainFamilySolana, req); err != nil {
		return "", err
	}
	if len(req.Data) > 0 {
		return "", apperrors.InvalidRequest("call data is not supported on solana")
	}

	lamports, err := ToBaseUnits(req.Amount, c.chain.NativeDecimals)
	if err != nil {
		return "", err
	}
	if !lamports.IsUint64() {
		return "", apperrors.InvalidRequest("amount is too large")
	}

	from, err := parsePublicKey(address)
	if err != nil {
		return "", err
	}
	to := solana.MustPublicKeyFromBase58(req.To)

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports.Uint64(), from, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	sig, err := c.signer.Sign(ctx, &custody.SignRequest{
		ChainName: custody.ChainNameSolana,
		Kind:      custody.SignKindTransaction,
		Address:   address,
		NetworkID: c.chain.CustodyNetworkID,
		Payload:   base64.StdEncoding.EncodeToString(message),
		KeyShares: keyShares,
	})
	if err != nil {
		return "", err
	}

	signed, err := applySignature(tx, message, sig)
	if err != nil {
		return "", err
	}

	txSig, err := c.rpc.SendTransactionWithOpts(ctx, signed, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		metrics.RecordTransactionSent(c.chain.ID, "failed")
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	metrics.RecordTransactionSent(c.chain.ID, "success")
	logger.Info(ctx, "transaction broadcast", "chain", c.chain.ID, "from", from.String(), "signature", txSig.String())

	if err := c.waitForConfirmation(ctx, txSig); err != nil {
		return "", err
	}
	return txSig.String(), nil
}

// applySignature attaches the custody signature, or decodes the fully signed
// transaction, and checks it signs the message we built.
func applySignature(tx *solana.Transaction, message []byte, sig *custody.Signature) (*solana.Transaction, error) {
	if sig.SignedTransaction != "" {
		raw, err := base64.StdEncoding.DecodeString(sig.SignedTransaction)
		if err != nil {
			return nil, fmt.Errorf("custody returned a malformed signed transaction: %w", err)
		}
		signed, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if err != nil {
			return nil, fmt.Errorf("custody returned a malformed signed transaction: %w", err)
		}
		signedMessage, err := signed.Message.MarshalBinary()
		if err != nil || string(signedMessage) != string(message) {
			return nil, fmt.Errorf("custody signed a different transaction")
		}
		tx = signed
	} else {
		s, err := solana.SignatureFromBase58(sig.Signature)
		if err != nil {
			return nil, fmt.Errorf("custody returned a malformed signature: %w", err)
		}
		tx.Signatures = []solana.Signature{s}
	}

	if err := tx.VerifySignatures(); err != nil {
		return nil, fmt.Errorf("custody signature does not verify: %w", err)
	}
	return tx, nil
}

// waitForConfirmation polls the signature status until it is confirmed,
// fails on chain, or the confirm timeout elapses.
func (c *SolanaClient) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s confirmation timed out: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TokenMetadata reads SPL mint decimals. Mints carry no on-chain name or symbol
// without a metadata program account, so generic values are used.
func (c *SolanaClient) TokenMetadata(ctx context.Context, token string) (*types.TokenMetadata, error) {
	mint, err := parsePublicKey(token)
	if err != nil {
		return nil, err
	}

	res, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to read token supply: %w", err)
	}
	if res.Value == nil {
		return nil, fmt.Errorf("mint %s returned no supply", mint)
	}

	return &types.TokenMetadata{
		Address:  mint.String(),
		ChainID:  c.chain.ID,
		Name:     "SPL Token",
		Symbol:   "SPL",
		Decimals: res.Value.Decimals,
	}, nil
}

func parsePublicKey(s string) (solana.PublicKey, error) {
	if err := chains.ValidateAddress(types.ChainFamilySolana, s); err != nil {
		return solana.PublicKey{}, err
	}
	return solana.MustPublicKeyFromBase58(s), nil
}

func isMissingAccount(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "account does not exist")
}

var _ Client = (*SolanaClient)(nil)
