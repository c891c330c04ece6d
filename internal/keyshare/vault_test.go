package keyshare

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/better-wallet/custody/pkg/errors"
)

const testSecret = "test-key-share-secret-32-bytes!!"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault([]byte(testSecret))
	require.NoError(t, err)
	return v
}

func TestNewVault(t *testing.T) {
	t.Run("creates vault with valid secret", func(t *testing.T) {
		v, err := NewVault([]byte(testSecret))
		require.NoError(t, err)
		assert.NotNil(t, v)
	})

	t.Run("rejects short secret", func(t *testing.T) {
		v, err := NewVault([]byte("short"))
		assert.Error(t, err)
		assert.Nil(t, v)
		assert.Contains(t, err.Error(), "at least 16 bytes")
	})
}

func TestVault_EncryptDecrypt(t *testing.T) {
	v := newTestVault(t)

	t.Run("round trips a key share bundle", func(t *testing.T) {
		plaintext := []byte(`[{"share":"abc","index":1}]`)

		blob, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotContains(t, blob, "share")

		decrypted, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("round trips empty data", func(t *testing.T) {
		blob, err := v.Encrypt([]byte{})
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(blob, ":"))

		decrypted, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Len(t, decrypted, 0)
	})

	t.Run("round trips random data", func(t *testing.T) {
		for _, size := range []int{1, 15, 16, 17, 255, 4096} {
			plaintext := make([]byte, size)
			_, err := rand.Read(plaintext)
			require.NoError(t, err)

			blob, err := v.Encrypt(plaintext)
			require.NoError(t, err)

			decrypted, err := v.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted, "size %d", size)
		}
	})

	t.Run("blob has three parts with 16 byte nonce and tag", func(t *testing.T) {
		blob, err := v.Encrypt([]byte("hello"))
		require.NoError(t, err)

		parts := strings.Split(blob, ":")
		require.Len(t, parts, 3)
		nonce, err := encoding.DecodeString(parts[0])
		require.NoError(t, err)
		tag, err := encoding.DecodeString(parts[1])
		require.NoError(t, err)
		ct, err := encoding.DecodeString(parts[2])
		require.NoError(t, err)

		assert.Len(t, nonce, NonceSize)
		assert.Len(t, tag, TagSize)
		assert.Len(t, ct, 5)
	})

	t.Run("different encryptions produce different blobs", func(t *testing.T) {
		b1, err := v.Encrypt([]byte("same"))
		require.NoError(t, err)
		b2, err := v.Encrypt([]byte("same"))
		require.NoError(t, err)
		assert.NotEqual(t, b1, b2)
	})

	t.Run("same secret decrypts across instances", func(t *testing.T) {
		blob, err := v.Encrypt([]byte("persisted"))
		require.NoError(t, err)

		other := newTestVault(t)
		decrypted, err := other.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, []byte("persisted"), decrypted)
	})
}

func TestVault_DecryptWrongSecret(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewVault([]byte("another-secret-of-sufficient-len"))
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCiphertext)
}

func TestVault_DecryptMalformed(t *testing.T) {
	v := newTestVault(t)
	valid, err := v.Encrypt([]byte("data"))
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	tests := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"two parts", parts[0] + ":" + parts[1]},
		{"four parts", valid + ":AAAA"},
		{"empty nonce", ":" + parts[1] + ":" + parts[2]},
		{"empty tag", parts[0] + "::" + parts[2]},
		{"nonce not base64", "!!!!:" + parts[1] + ":" + parts[2]},
		{"short nonce", encoding.EncodeToString(make([]byte, 12)) + ":" + parts[1] + ":" + parts[2]},
		{"short tag", parts[0] + ":" + encoding.EncodeToString(make([]byte, 8)) + ":" + parts[2]},
		{"swapped tag and ciphertext", parts[0] + ":" + parts[2] + ":" + parts[1]},
		{"unpadded base64", strings.TrimRight(parts[0], "=") + ":" + parts[1] + ":" + parts[2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext, err := v.Decrypt(tt.blob)
			assert.Nil(t, plaintext)
			assert.ErrorIs(t, err, apperrors.ErrInvalidCiphertext)
		})
	}
}

func TestVault_AnySingleByteMutationFails(t *testing.T) {
	v := newTestVault(t)
	plaintext := []byte(`{"keyShares":["s1","s2"]}`)
	blob, err := v.Encrypt(plaintext)
	require.NoError(t, err)

	for i := 0; i < len(blob); i++ {
		for _, replacement := range []byte{'A', 'B', '#'} {
			if blob[i] == replacement {
				continue
			}
			mutated := []byte(blob)
			mutated[i] = replacement

			got, err := v.Decrypt(string(mutated))
			require.Error(t, err, "mutation at %d to %q", i, replacement)
			assert.ErrorIs(t, err, apperrors.ErrInvalidCiphertext)
			assert.Nil(t, got)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, assert.AnError
}

func TestVault_EncryptNonceFailure(t *testing.T) {
	v := newTestVault(t)
	v.rand = failingReader{}

	_, err := v.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestVault_DeterministicWithFixedNonce(t *testing.T) {
	v := newTestVault(t)
	v.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 2*NonceSize))

	b1, err := v.Encrypt([]byte("fixed"))
	require.NoError(t, err)
	b2, err := v.Encrypt([]byte("fixed"))
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}
