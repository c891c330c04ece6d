package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/eth"
	apperrors "github.com/better-wallet/custody/pkg/errors"
	"github.com/better-wallet/custody/pkg/types"
)

func newTestRegistry(t *testing.T, evmDials *atomic.Int32, failEVM *atomic.Bool) *Registry {
	t.Helper()

	chainRegistry, err := chains.NewDefaultRegistry(chains.Options{})
	require.NoError(t, err)

	backend := simulated.NewBackend(ethtypes.GenesisAlloc{})
	t.Cleanup(func() { _ = backend.Close() })

	return NewRegistry(chainRegistry, newFakeSigner(),
		WithEVMDialer(func(ctx context.Context, chain *chains.Chain) (*eth.Client, error) {
			evmDials.Add(1)
			if failEVM.Load() {
				return nil, errors.New("dial tcp: connection refused")
			}
			return eth.NewClient(ctx, backend.Client())
		}),
		WithSolanaDialer(func(chain *chains.Chain) SolanaRPC {
			return newFakeSolanaRPC()
		}),
	)
}

func resolve(ctx context.Context, r *Registry, idOrFamily string) (Client, error) {
	chain, err := r.Chains().Resolve(idOrFamily)
	if err != nil {
		return nil, err
	}
	return r.ForChain(ctx, chain)
}

// newBlockingRegistry returns a registry whose EVM dials block until release is closed
func newBlockingRegistry(t *testing.T, dials *atomic.Int32, dialing chan<- struct{}, release <-chan struct{}) *Registry {
	t.Helper()

	chainRegistry, err := chains.NewDefaultRegistry(chains.Options{})
	require.NoError(t, err)

	backend := simulated.NewBackend(ethtypes.GenesisAlloc{})
	t.Cleanup(func() { _ = backend.Close() })

	return NewRegistry(chainRegistry, newFakeSigner(),
		WithEVMDialer(func(ctx context.Context, chain *chains.Chain) (*eth.Client, error) {
			dials.Add(1)
			select {
			case dialing <- struct{}{}:
			default:
			}
			<-release
			return eth.NewClient(ctx, backend.Client())
		}),
		WithSolanaDialer(func(chain *chains.Chain) SolanaRPC {
			return newFakeSolanaRPC()
		}),
	)
}

func TestRegistry_SlowDialDoesNotBlockOtherChains(t *testing.T) {
	var dials atomic.Int32
	dialing := make(chan struct{}, 1)
	release := make(chan struct{})
	r := newBlockingRegistry(t, &dials, dialing, release)
	ctx := context.Background()

	sol, err := resolve(ctx, r, "devnet")
	require.NoError(t, err)

	evmDone := make(chan error, 1)
	go func() {
		_, err := resolve(ctx, r, "1")
		evmDone <- err
	}()
	<-dialing

	lookup := make(chan Client, 1)
	go func() {
		c, _ := resolve(ctx, r, "devnet")
		lookup <- c
	}()

	select {
	case c := <-lookup:
		assert.Same(t, sol, c)
	case <-time.After(2 * time.Second):
		t.Fatal("cached solana lookup waited on an unrelated EVM dial")
	}

	close(release)
	require.NoError(t, <-evmDone)
}

func TestRegistry_ConcurrentFirstUseDialsOnce(t *testing.T) {
	var dials atomic.Int32
	dialing := make(chan struct{}, 1)
	release := make(chan struct{})
	r := newBlockingRegistry(t, &dials, dialing, release)
	ctx := context.Background()

	const n = 8
	clients := make([]Client, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = resolve(ctx, r, "1")
		}(i)
	}

	<-dialing
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, clients[0], clients[i])
	}
	assert.Equal(t, int32(1), dials.Load())
}

func TestRegistry_ResolveCachesClients(t *testing.T) {
	var dials atomic.Int32
	var fail atomic.Bool
	r := newTestRegistry(t, &dials, &fail)
	ctx := context.Background()

	first, err := resolve(ctx, r, "1")
	require.NoError(t, err)
	assert.Equal(t, types.ChainFamilyEVM, first.Family())
	assert.Equal(t, "1", first.Chain().ID)

	second, err := r.ForChain(ctx, first.Chain())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), dials.Load())
}

func TestRegistry_ResolveByFamily(t *testing.T) {
	var dials atomic.Int32
	var fail atomic.Bool
	r := newTestRegistry(t, &dials, &fail)
	ctx := context.Background()

	evm, err := resolve(ctx, r, "evm")
	require.NoError(t, err)
	assert.Equal(t, types.ChainFamilyEVM, evm.Family())

	sol, err := resolve(ctx, r, "solana")
	require.NoError(t, err)
	assert.Equal(t, types.ChainFamilySolana, sol.Family())
	assert.IsType(t, &SolanaClient{}, sol)
}

func TestRegistry_FailedDialIsNotCached(t *testing.T) {
	var dials atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	r := newTestRegistry(t, &dials, &fail)
	ctx := context.Background()

	_, err := resolve(ctx, r, "1")
	require.Error(t, err)

	fail.Store(false)
	c, err := resolve(ctx, r, "1")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, int32(2), dials.Load())
}

func TestRegistry_UnknownChain(t *testing.T) {
	var dials atomic.Int32
	var fail atomic.Bool
	r := newTestRegistry(t, &dials, &fail)

	_, err := resolve(context.Background(), r, "dogecoin")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedChain)
	assert.Equal(t, int32(0), dials.Load())
}

func TestRegistry_Close(t *testing.T) {
	var dials atomic.Int32
	var fail atomic.Bool
	r := newTestRegistry(t, &dials, &fail)
	ctx := context.Background()

	_, err := resolve(ctx, r, "1")
	require.NoError(t, err)
	r.Close()

	_, err = resolve(ctx, r, "1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load(), "close drops cached clients")
}

func newChainIDServer(t *testing.T, chainIDHex string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_chainId", req.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": chainIDHex})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialEVM_ChecksChainID(t *testing.T) {
	chainRegistry, err := chains.NewDefaultRegistry(chains.Options{})
	require.NoError(t, err)
	base, err := chainRegistry.Resolve("8453")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("matching endpoint", func(t *testing.T) {
		chain := *base
		chain.RPCURL = newChainIDServer(t, "0x2105").URL

		client, err := DialEVM(ctx, &chain)
		require.NoError(t, err)
		defer client.Close()
		assert.Equal(t, int64(8453), client.ChainID())
	})

	t.Run("endpoint for another chain", func(t *testing.T) {
		chain := *base
		chain.RPCURL = newChainIDServer(t, "0x1").URL

		_, err := DialEVM(ctx, &chain)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reports chain id 1")
	})
}
