// Package pool implements the Resource Pool: lazy, reference-counted
// acquisition of chain providers and signers, keyed by (chainId, rpcUrl),
// with idle-window eviction and idempotent teardown.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meridianlabs/testorch/models"
)

// ChainClient is the subset of *ethclient.Client the pool and its
// consumers (Test Runner phases, Contract Registry health checks) need;
// it exists so tests can substitute a fake dialer without a live RPC
// endpoint.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	Close()
}

type dialFunc func(ctx context.Context, rawurl string) (ChainClient, error)

// DialFunc is exported so callers outside the package can substitute a
// transport other than the default ethclient dialer — a fake for tests,
// or an alternate client implementation for a chain family ethclient
// doesn't cover directly.
type DialFunc = dialFunc

func defaultDial(ctx context.Context, rawurl string) (ChainClient, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// Provider is a pooled handle onto one (chainId, rpcUrl) endpoint.
type Provider struct {
	ChainClient
	ChainID uint64
	RPCURL  string
}

type providerKey struct {
	chainID uint64
	rpcURL  string
}

type providerHandle struct {
	provider     *Provider
	refCount     int
	lastReleased time.Time
}

// Pool manages providers and signers per network, enforcing at most one
// active provider per (chainId, rpcUrl).
type Pool struct {
	dial       dialFunc
	idleWindow time.Duration

	mu        sync.Mutex
	providers map[providerKey]*providerHandle

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a Pool. idleWindow is the minimum time a zero-refcount
// provider sits before it becomes eligible for eviction at the next
// maintenance tick; a value <= 0 disables eviction.
func New(idleWindow time.Duration) *Pool {
	p := &Pool{dial: defaultDial, idleWindow: idleWindow, providers: map[providerKey]*providerHandle{}, stopCh: make(chan struct{})}
	if idleWindow > 0 {
		p.wg.Add(1)
		go p.maintenanceLoop()
	}
	return p
}

// NewWithDialer builds a Pool exactly like New, but dialing through a
// caller-supplied DialFunc instead of ethclient.DialContext.
func NewWithDialer(dial DialFunc, idleWindow time.Duration) *Pool {
	p := New(idleWindow)
	p.dial = dial
	return p
}

// GetProvider returns a cached provider for (spec.ChainID, the first
// usable RPC URL), dialing and performing a chain-id handshake on first
// use. Subsequent calls reuse the same handle and increment its
// reference count. A chain-id mismatch between the spec and the live
// endpoint is fatal and the provider is not cached.
func (p *Pool) GetProvider(ctx context.Context, spec models.NetworkSpec) (*Provider, error) {
	if len(spec.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("pool: network %q has no RPC endpoints", spec.ID)
	}
	rpcURL := spec.RPCEndpoints[0]
	key := providerKey{chainID: spec.ChainID, rpcURL: rpcURL}

	p.mu.Lock()
	if h, ok := p.providers[key]; ok {
		h.refCount++
		p.mu.Unlock()
		return h.provider, nil
	}
	p.mu.Unlock()

	client, err := p.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", rpcURL, err)
	}
	observed, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pool: chain id handshake with %s: %w", rpcURL, err)
	}
	if observed.Uint64() != spec.ChainID {
		client.Close()
		return nil, fmt.Errorf("pool: network %q configured chainId=%d but endpoint reports %d", spec.ID, spec.ChainID, observed.Uint64())
	}

	provider := &Provider{ChainClient: client, ChainID: spec.ChainID, RPCURL: rpcURL}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.providers[key]; ok {
		// lost the race against a concurrent caller; discard ours
		client.Close()
		h.refCount++
		return h.provider, nil
	}
	p.providers[key] = &providerHandle{provider: provider, refCount: 1}
	return provider, nil
}

// Release decrements the reference count for provider's (chainId,
// rpcUrl). When it reaches zero the handle becomes eligible for
// eviction no sooner than idleWindow after this call.
func (p *Pool) Release(provider *Provider) {
	if provider == nil {
		return
	}
	key := providerKey{chainID: provider.ChainID, rpcURL: provider.RPCURL}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.providers[key]
	if !ok {
		return
	}
	if h.refCount > 0 {
		h.refCount--
	}
	if h.refCount == 0 {
		h.lastReleased = time.Now()
	}
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.idleWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, h := range p.providers {
		if h.refCount == 0 && !h.lastReleased.IsZero() && now.Sub(h.lastReleased) >= p.idleWindow {
			h.provider.Close()
			delete(p.providers, key)
		}
	}
}

// Cleanup closes every pooled provider and stops the maintenance loop.
// Idempotent.
func (p *Pool) Cleanup() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.mu.Lock()
		defer p.mu.Unlock()
		for key, h := range p.providers {
			h.provider.Close()
			delete(p.providers, key)
		}
	})
	return nil
}

// Stats reports counts useful for diagnostics and tests.
type Stats struct {
	ActiveProviders int
	TotalRefCount   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{ActiveProviders: len(p.providers)}
	for _, h := range p.providers {
		s.TotalRefCount += h.refCount
	}
	return s
}
