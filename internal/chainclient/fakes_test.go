package chainclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/better-wallet/custody/internal/custody"
)

// fakeSigner plays the custody service with real keys so signatures verify on chain
type fakeSigner struct {
	evmKey    *ecdsa.PrivateKey
	solanaKey solana.PrivateKey

	// returnFullSolanaTx makes Solana transaction signing return the whole signed transaction
	returnFullSolanaTx bool
	// tamper alters the EVM transaction before signing it
	tamper bool
	err    error

	mu      sync.Mutex
	creates []*custody.CreateAccountRequest
	signs   []*custody.SignRequest
}

func newFakeSigner() *fakeSigner {
	evmKey, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	solKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		panic(err)
	}
	return &fakeSigner{evmKey: evmKey, solanaKey: solKey}
}

func (f *fakeSigner) evmAddress() string {
	return crypto.PubkeyToAddress(f.evmKey.PublicKey).Hex()
}

func (f *fakeSigner) solanaAddress() string {
	return f.solanaKey.PublicKey().String()
}

func (f *fakeSigner) signCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signs)
}

func (f *fakeSigner) CreateAccount(ctx context.Context, req *custody.CreateAccountRequest) (*custody.Account, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	switch req.ChainName {
	case custody.ChainNameEVM:
		return &custody.Account{Address: strings.ToLower(f.evmAddress()), KeyShares: []byte(`["evm-share"]`)}, nil
	case custody.ChainNameSolana:
		return &custody.Account{Address: f.solanaAddress(), KeyShares: []byte(`["svm-share"]`)}, nil
	}
	return nil, fmt.Errorf("unknown chain %s", req.ChainName)
}

func (f *fakeSigner) Sign(ctx context.Context, req *custody.SignRequest) (*custody.Signature, error) {
	f.mu.Lock()
	f.signs = append(f.signs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	switch {
	case req.ChainName == custody.ChainNameEVM && req.Kind == custody.SignKindMessage:
		sig, err := crypto.Sign(accounts.TextHash([]byte(req.Payload)), f.evmKey)
		if err != nil {
			return nil, err
		}
		return &custody.Signature{Signature: hexutil.Encode(sig)}, nil

	case req.ChainName == custody.ChainNameEVM:
		raw, err := hexutil.Decode(req.Payload)
		if err != nil {
			return nil, err
		}
		tx := new(ethtypes.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		if f.tamper {
			tx = ethtypes.NewTx(&ethtypes.DynamicFeeTx{
				ChainID:   tx.ChainId(),
				Nonce:     tx.Nonce() + 1,
				GasTipCap: tx.GasTipCap(),
				GasFeeCap: tx.GasFeeCap(),
				Gas:       tx.Gas(),
				To:        tx.To(),
				Value:     tx.Value(),
			})
		}
		signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(tx.ChainId()), f.evmKey)
		if err != nil {
			return nil, err
		}
		out, err := signed.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &custody.Signature{SignedTransaction: hexutil.Encode(out)}, nil

	case req.Kind == custody.SignKindMessage:
		sig, err := f.solanaKey.Sign([]byte(req.Payload))
		if err != nil {
			return nil, err
		}
		return &custody.Signature{Signature: sig.String()}, nil

	default:
		message, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return nil, err
		}
		sig, err := f.solanaKey.Sign(message)
		if err != nil {
			return nil, err
		}
		if !f.returnFullSolanaTx {
			return &custody.Signature{Signature: sig.String()}, nil
		}

		var msg solana.Message
		if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(message)); err != nil {
			return nil, err
		}
		tx := &solana.Transaction{Signatures: []solana.Signature{sig}, Message: msg}
		out, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &custody.Signature{SignedTransaction: base64.StdEncoding.EncodeToString(out)}, nil
	}
}

var _ custody.Signer = (*fakeSigner)(nil)
