// Package keyshare encrypts custody key-share bundles at rest.
package keyshare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"

	apperrors "github.com/better-wallet/custody/pkg/errors"
)

const (
	// NonceSize is the AES-GCM nonce length used for every blob
	NonceSize = 16
	// TagSize is the AES-GCM authentication tag length
	TagSize = 16
	// MinSecretLength is the shortest accepted vault secret; its prefix doubles as the KDF salt
	MinSecretLength = 16

	keyLength = 32
	scryptN   = 16384
	scryptR   = 8
	scryptP   = 1
)

var encoding = base64.StdEncoding.Strict()

// Vault performs AEAD encryption of key-share bundles with a key derived from a configured secret.
// The derived key is immutable after construction and Vault is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewVault derives the encryption key from secret with scrypt
func NewVault(secret []byte) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("key share secret must be at least %d bytes", MinSecretLength)
	}

	key, err := scrypt.Key(secret, secret[:MinSecretLength], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key share key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce):base64(tag):base64(ciphertext).
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return strings.Join([]string{
		encoding.EncodeToString(nonce),
		encoding.EncodeToString(tag),
		encoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or unauthenticated
// input fails with an invalid_ciphertext error and no plaintext.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("expected 3 parts, got %d", len(parts)))
	}
	if parts[0] == "" || parts[1] == "" {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("empty nonce or tag"))
	}

	nonce, err := encoding.DecodeString(parts[0])
	if err != nil {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("nonce: %w", err))
	}
	tag, err := encoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("tag: %w", err))
	}
	ciphertext, err := encoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("ciphertext: %w", err))
	}

	if len(nonce) != NonceSize {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("nonce length %d", len(nonce)))
	}
	if len(tag) != TagSize {
		return nil, apperrors.InvalidCiphertext(fmt.Errorf("tag length %d", len(tag)))
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperrors.InvalidCiphertext(err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
