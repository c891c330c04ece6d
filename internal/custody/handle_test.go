package custody

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_LazySingleton(t *testing.T) {
	f, server := newFakeCustody(t)

	built := 0
	h := NewHandle(testConfig(server.URL))
	h.newClient = func(cfg Config) (*Client, error) {
		built++
		return NewClient(cfg)
	}
	assert.Equal(t, int32(0), f.authCalls.Load(), "no connection before first use")

	var wg sync.WaitGroup
	clients := make([]*Client, 10)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := h.Client(context.Background())
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, built)
	assert.Equal(t, int32(1), f.authCalls.Load())
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
}

func TestHandle_Reset(t *testing.T) {
	f, server := newFakeCustody(t)
	h := NewHandle(testConfig(server.URL))

	first, err := h.Client(context.Background())
	require.NoError(t, err)

	h.Reset()

	second, err := h.Client(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), f.authCalls.Load())
}

func TestHandle_FailedInitNotCached(t *testing.T) {
	_, server := newFakeCustody(t)
	cfg := testConfig(server.URL)
	cfg.APIToken = "wrong"
	h := NewHandle(cfg)

	_, err := h.Client(context.Background())
	require.Error(t, err)

	h.cfg.APIToken = "api-token"
	c, err := h.Client(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestHandle_DelegatesToClient(t *testing.T) {
	_, server := newFakeCustody(t)
	h := NewHandle(testConfig(server.URL))

	acct, err := h.CreateAccount(context.Background(), &CreateAccountRequest{ChainName: ChainNameEVM})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.Address)

	sig, err := h.Sign(context.Background(), &SignRequest{
		ChainName: ChainNameEVM,
		Kind:      SignKindMessage,
		Address:   acct.Address,
		Payload:   "hi",
		KeyShares: acct.KeyShares,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xsig", sig.Signature)
}
