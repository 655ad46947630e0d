// Package gas implements the Gas Strategy Manager: given a NetworkSpec and
// a live provider, it derives a single GasQuote per the network's
// configured strategy (fixed, adaptive, dynamic), falling back to the
// configured fallback price on transient RPC failure.
package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// Provider is the subset of a chain client the manager needs. The
// Resource Pool's ethclient.Client wrapper satisfies it directly.
type Provider interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// sanityThresholdWei is the bound above which an observed testnet gas
// price triggers a once-per-network warning; testnets are not expected
// to sustain mainnet-scale fee markets.
var sanityThresholdWei = models.GweiToWei(500)

// Manager computes GasQuotes and tracks the once-per-process sanity
// warning state per network.
type Manager struct {
	log *slog.Logger

	warnMu  sync.Mutex
	warned  map[string]bool

	cacheMu sync.Mutex
	cache   map[string]cachedQuote
}

type cachedQuote struct {
	quote   models.GasQuote
	expires time.Time
}

// New builds a Manager. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, warned: map[string]bool{}, cache: map[string]cachedQuote{}}
}

// Option customizes a single Quote call.
type Option func(*quoteOpts)

type quoteOpts struct {
	aggressiveMultiplier float64
}

// WithAggressive applies a multiplier on top of the fixed-strategy price,
// for callers that explicitly want faster inclusion (spec.md §4.B).
// Multiplier is ignored by the adaptive and dynamic strategies.
func WithAggressive(multiplier float64) Option {
	return func(o *quoteOpts) { o.aggressiveMultiplier = multiplier }
}

// Quote computes a fresh GasQuote; it never consults or updates the
// cache. It is a pure async read and performs no retries of its own —
// RPC failures fall back to the configured fallback value rather than
// propagating. It returns an error when the spec's gasConfig is missing
// fields required by the chosen strategy (a programmer error), and when
// an RPC read fails and no fallback value is configured.
func (m *Manager) Quote(ctx context.Context, spec models.NetworkSpec, provider Provider, opts ...Option) (models.GasQuote, error) {
	var o quoteOpts
	for _, fn := range opts {
		fn(&o)
	}

	switch spec.GasConfig.Strategy {
	case models.GasStrategyFixed:
		return m.quoteFixed(spec, o)
	case models.GasStrategyAdaptive:
		return m.quoteAdaptive(ctx, spec, provider)
	case models.GasStrategyDynamic:
		return m.quoteDynamic(ctx, spec, provider)
	default:
		return models.GasQuote{}, fmt.Errorf("gas: network %q has unknown gas strategy %q", spec.ID, spec.GasConfig.Strategy)
	}
}

func (m *Manager) quoteFixed(spec models.NetworkSpec, o quoteOpts) (models.GasQuote, error) {
	if spec.GasConfig.Required.IsZero() {
		return models.GasQuote{}, fmt.Errorf("gas: network %q: fixed strategy requires gasConfig.required", spec.ID)
	}
	price := spec.GasConfig.Required
	source := models.GasSourceFixed
	if o.aggressiveMultiplier > 1 {
		price = price.Mul(o.aggressiveMultiplier)
		source = models.GasSourceAggressiveOverride
	}
	return models.GasQuote{GasPriceWei: price, Source: source, ObservedAt: time.Now()}, nil
}

func (m *Manager) quoteAdaptive(ctx context.Context, spec models.NetworkSpec, provider Provider) (models.GasQuote, error) {
	if spec.GasConfig.Base.IsZero() {
		return models.GasQuote{}, fmt.Errorf("gas: network %q: adaptive strategy requires gasConfig.base", spec.ID)
	}
	observed, err := provider.SuggestGasPrice(ctx)
	if err != nil {
		return m.fallback(spec)
	}
	w := models.NewWei(observed)
	m.checkSanity(spec, w)

	floor := spec.GasConfig.Base.Int()
	floor.Sub(floor, spec.GasConfig.Tolerance.Int())
	if w.Int().Cmp(floor) >= 0 {
		return models.GasQuote{GasPriceWei: w, Source: models.GasSourceAdaptive, ObservedAt: time.Now()}, nil
	}
	return models.GasQuote{GasPriceWei: spec.GasConfig.Base, Source: models.GasSourceAdaptive, ObservedAt: time.Now()}, nil
}

func (m *Manager) quoteDynamic(ctx context.Context, spec models.NetworkSpec, provider Provider) (models.GasQuote, error) {
	observed, err := provider.SuggestGasPrice(ctx)
	if err != nil {
		return m.fallback(spec)
	}
	w := models.NewWei(observed)
	m.checkSanity(spec, w)

	if !spec.GasConfig.MaxGasPrice.IsZero() && w.Cmp(spec.GasConfig.MaxGasPrice) > 0 {
		return models.GasQuote{GasPriceWei: spec.GasConfig.MaxGasPrice, Source: models.GasSourceCap, ObservedAt: time.Now()}, nil
	}
	return models.GasQuote{GasPriceWei: w, Source: models.GasSourceDynamic, ObservedAt: time.Now()}, nil
}

func (m *Manager) fallback(spec models.NetworkSpec) (models.GasQuote, error) {
	if spec.GasConfig.Fallback.IsZero() {
		return models.GasQuote{}, fmt.Errorf("gas: network %q: RPC gas price read failed and no fallback configured", spec.ID)
	}
	return models.GasQuote{GasPriceWei: spec.GasConfig.Fallback, Source: models.GasSourceFallback, ObservedAt: time.Now()}, nil
}

func (m *Manager) checkSanity(spec models.NetworkSpec, observed models.Wei) {
	if spec.Type != models.NetworkTestnet {
		return
	}
	if observed.Cmp(sanityThresholdWei) <= 0 {
		return
	}
	m.warnMu.Lock()
	defer m.warnMu.Unlock()
	if m.warned[spec.ID] {
		return
	}
	m.warned[spec.ID] = true
	m.log.Warn("observed gas price exceeds testnet sanity threshold",
		"network", spec.ID, "observed_wei", observed.String(), "threshold_wei", sanityThresholdWei.String())
}

// QuoteCached returns the last quote computed within ttl of now for
// (spec.ID, provider), computing and storing a fresh one otherwise. This
// is the only path that caches — Quote itself never does (spec.md §4.B).
func (m *Manager) QuoteCached(ctx context.Context, spec models.NetworkSpec, provider Provider, ttl time.Duration, opts ...Option) (models.GasQuote, error) {
	m.cacheMu.Lock()
	if entry, ok := m.cache[spec.ID]; ok && time.Now().Before(entry.expires) {
		m.cacheMu.Unlock()
		return entry.quote, nil
	}
	m.cacheMu.Unlock()

	quote, err := m.Quote(ctx, spec, provider, opts...)
	if err != nil {
		return models.GasQuote{}, err
	}
	m.cacheMu.Lock()
	m.cache[spec.ID] = cachedQuote{quote: quote, expires: time.Now().Add(ttl)}
	m.cacheMu.Unlock()
	return quote, nil
}
