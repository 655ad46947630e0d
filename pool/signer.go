package pool

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridianlabs/testorch/models"
)

// Signer is bound to a single (provider, private key) pair and owns its
// own pending-nonce counter so callers never need an RPC round-trip per
// transaction. Nonce access is serialized by mu: the counter is strictly
// monotonic and a nonce is never reused.
type Signer struct {
	Auth     *bind.TransactOpts
	Address  common.Address
	provider *Provider

	mu           sync.Mutex
	pendingNonce uint64
}

// GetSigner builds a Signer bound to the pool's provider for spec,
// acquiring that provider (incrementing its reference count) in the
// process — a signer and its provider always share one connection. index
// is reserved for future multi-key rotation and is currently unused
// beyond being part of the call signature mirrored from spec.md §4.D.
func (p *Pool) GetSigner(ctx context.Context, spec models.NetworkSpec, index int, privateKeyHex string) (*Signer, error) {
	provider, err := p.GetProvider(ctx, spec)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		p.Release(provider)
		return nil, fmt.Errorf("pool: parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	auth, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(spec.ChainID))
	if err != nil {
		p.Release(provider)
		return nil, fmt.Errorf("pool: build transactor: %w", err)
	}

	nonce, err := provider.PendingNonceAt(ctx, address)
	if err != nil {
		p.Release(provider)
		return nil, fmt.Errorf("pool: fetch pending nonce: %w", err)
	}

	return &Signer{Auth: auth, Address: address, provider: provider, pendingNonce: nonce}, nil
}

// NextNonce returns the next nonce to use and advances the counter. It
// never consults the chain — the signer is the sole source of truth for
// its own pending nonce once constructed.
func (s *Signer) NextNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pendingNonce
	s.pendingNonce++
	return n
}

// Provider returns the Signer's backing Provider handle.
func (s *Signer) Provider() *Provider { return s.provider }

// NonceConsumed reports whether nonce has already been consumed on-chain
// (i.e. the chain's pending nonce for this signer has advanced past it),
// which happens when a transaction using that nonce was replaced by
// another transaction that later got mined. Used by the Test Runner to
// distinguish a genuinely stuck send from a replaced-and-confirmed one.
func (s *Signer) NonceConsumed(ctx context.Context, nonce uint64) (consumed bool, ok bool) {
	current, err := s.provider.PendingNonceAt(ctx, s.Address)
	if err != nil {
		return false, false
	}
	return current > nonce, true
}
