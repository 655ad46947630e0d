package gas

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/models"
)

type stubProvider struct {
	price *big.Int
	err   error
}

func (s stubProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.price, s.err
}

func fixedSpec() models.NetworkSpec {
	return models.NetworkSpec{
		ID:   "fixed-net",
		Type: models.NetworkTestnet,
		GasConfig: models.GasConfig{
			Strategy: models.GasStrategyFixed,
			Required: models.GweiToWei(20),
		},
	}
}

func adaptiveSpec() models.NetworkSpec {
	return models.NetworkSpec{
		ID:   "adaptive-net",
		Type: models.NetworkTestnet,
		GasConfig: models.GasConfig{
			Strategy:  models.GasStrategyAdaptive,
			Base:      models.GweiToWei(30),
			Tolerance: models.GweiToWei(5),
			Fallback:  models.GweiToWei(10),
		},
	}
}

func dynamicSpec() models.NetworkSpec {
	return models.NetworkSpec{
		ID:   "dynamic-net",
		Type: models.NetworkTestnet,
		GasConfig: models.GasConfig{
			Strategy:    models.GasStrategyDynamic,
			MaxGasPrice: models.GweiToWei(100),
			Fallback:    models.GweiToWei(10),
		},
	}
}

func TestQuoteFixedReturnsConfiguredPrice(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), fixedSpec(), stubProvider{})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceFixed, q.Source)
	assert.Equal(t, models.GweiToWei(20).String(), q.GasPriceWei.String())
}

func TestQuoteFixedAggressiveMultiplier(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), fixedSpec(), stubProvider{}, WithAggressive(1.5))
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceAggressiveOverride, q.Source)
	assert.Equal(t, models.GweiToWei(30).String(), q.GasPriceWei.String())
}

func TestQuoteFixedMissingRequiredIsProgrammerError(t *testing.T) {
	m := New(nil)
	spec := fixedSpec()
	spec.GasConfig.Required = models.ZeroWei()
	_, err := m.Quote(context.Background(), spec, stubProvider{})
	assert.Error(t, err)
}

func TestQuoteAdaptiveWithinToleranceUsesObserved(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), adaptiveSpec(), stubProvider{price: models.GweiToWei(28).Int()})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceAdaptive, q.Source)
	assert.Equal(t, models.GweiToWei(28).String(), q.GasPriceWei.String())
}

func TestQuoteAdaptiveBelowToleranceFallsBackToBase(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), adaptiveSpec(), stubProvider{price: models.GweiToWei(10).Int()})
	require.NoError(t, err)
	assert.Equal(t, models.GweiToWei(30).String(), q.GasPriceWei.String())
}

func TestQuoteAdaptiveRPCFailureUsesFallback(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), adaptiveSpec(), stubProvider{err: errors.New("dial tcp: timeout")})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceFallback, q.Source)
	assert.Equal(t, models.GweiToWei(10).String(), q.GasPriceWei.String())
}

func TestQuoteDynamicUnderCapUsesObserved(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), dynamicSpec(), stubProvider{price: models.GweiToWei(50).Int()})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceDynamic, q.Source)
	assert.Equal(t, models.GweiToWei(50).String(), q.GasPriceWei.String())
}

func TestQuoteDynamicOverCapReturnsCap(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), dynamicSpec(), stubProvider{price: models.GweiToWei(200).Int()})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceCap, q.Source)
	assert.Equal(t, models.GweiToWei(100).String(), q.GasPriceWei.String())
}

func TestQuoteDynamicRPCFailureUsesFallback(t *testing.T) {
	m := New(nil)
	q, err := m.Quote(context.Background(), dynamicSpec(), stubProvider{err: errors.New("connection refused")})
	require.NoError(t, err)
	assert.Equal(t, models.GasSourceFallback, q.Source)
}

func TestQuoteCachedReusesWithinTTL(t *testing.T) {
	m := New(nil)
	provider := &countingProvider{price: models.GweiToWei(50).Int()}
	spec := dynamicSpec()

	_, err := m.QuoteCached(context.Background(), spec, provider, hourTTL)
	require.NoError(t, err)
	_, err = m.QuoteCached(context.Background(), spec, provider, hourTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
}

type countingProvider struct {
	price *big.Int
	calls int
}

func (c *countingProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.calls++
	return c.price, nil
}

const hourTTL = 60 * 60 * 1_000_000_000 // one hour in time.Duration nanoseconds, spelled out to avoid importing time just for this constant
