package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/models"
)

type fakeClient struct {
	chainID *big.Int
	closed  bool
}

func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 5, nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}
func (f *fakeClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeClient) Close() { f.closed = true }

func testSpec() models.NetworkSpec {
	return models.NetworkSpec{ID: "local", ChainID: 1337, RPCEndpoints: []string{"http://127.0.0.1:8545"}}
}

func TestGetProviderCachesByChainAndURL(t *testing.T) {
	p := New(0)
	client := &fakeClient{chainID: big.NewInt(1337)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }

	p1, err := p.GetProvider(context.Background(), testSpec())
	require.NoError(t, err)
	p2, err := p.GetProvider(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, Stats{ActiveProviders: 1, TotalRefCount: 2}, p.Stats())
}

func TestGetProviderChainIDMismatchIsFatal(t *testing.T) {
	p := New(0)
	client := &fakeClient{chainID: big.NewInt(99)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }

	_, err := p.GetProvider(context.Background(), testSpec())
	require.Error(t, err)
	assert.True(t, client.closed)
}

func TestGetProviderDialFailurePropagates(t *testing.T) {
	p := New(0)
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) {
		return nil, errors.New("connection refused")
	}
	_, err := p.GetProvider(context.Background(), testSpec())
	require.Error(t, err)
}

func TestReleaseDecrementsRefCount(t *testing.T) {
	p := New(0)
	client := &fakeClient{chainID: big.NewInt(1337)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }

	provider, err := p.GetProvider(context.Background(), testSpec())
	require.NoError(t, err)
	p.Release(provider)
	assert.Equal(t, 0, p.Stats().TotalRefCount)
}

func TestCleanupClosesProvidersAndIsIdempotent(t *testing.T) {
	p := New(0)
	client := &fakeClient{chainID: big.NewInt(1337)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }
	_, err := p.GetProvider(context.Background(), testSpec())
	require.NoError(t, err)

	require.NoError(t, p.Cleanup())
	assert.True(t, client.closed)
	require.NoError(t, p.Cleanup())
}

func TestEvictIdleRemovesZeroRefCountProviderAfterWindow(t *testing.T) {
	p := New(5 * time.Millisecond)
	defer p.Cleanup()
	client := &fakeClient{chainID: big.NewInt(1337)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }

	provider, err := p.GetProvider(context.Background(), testSpec())
	require.NoError(t, err)
	p.Release(provider)

	time.Sleep(10 * time.Millisecond)
	p.evictIdle()
	assert.Equal(t, 0, p.Stats().ActiveProviders)
}

func TestGetSignerSharesProviderWithPool(t *testing.T) {
	p := New(0)
	client := &fakeClient{chainID: big.NewInt(1337)}
	p.dial = func(ctx context.Context, rawurl string) (ChainClient, error) { return client, nil }

	const pk = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	signer, err := p.GetSigner(context.Background(), testSpec(), 0, pk)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), signer.NextNonce())
	assert.Equal(t, uint64(6), signer.NextNonce())
	assert.NotEqual(t, common.Address{}, signer.Address)
}
