package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/marketcore/aggregator/internal/cache"
	"github.com/marketcore/aggregator/internal/config"
	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/health"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
	"github.com/marketcore/aggregator/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name     string
	price    float64
	fail     bool
	symbols  map[domain.Symbol]bool
}

func (a fakeAdapter) Name() string { return a.name }

func (a fakeAdapter) FetchCurrent(ctx context.Context, symbol domain.Symbol, currency string) (domain.RawProviderResponse, error) {
	if a.fail {
		return domain.RawProviderResponse{}, domain.NewError(domain.ErrTransient, a.name, "boom", nil)
	}
	return domain.RawProviderResponse{
		Provider:   a.name,
		Symbol:     symbol,
		PriceUSD:   a.price,
		ObservedAt: time.Now(),
	}, nil
}

func (a fakeAdapter) FetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	return []domain.RawProviderResponse{
		{Provider: a.name, Symbol: symbol, PriceUSD: a.price, ObservedAt: to},
		{Provider: a.name, Symbol: symbol, PriceUSD: a.price, ObservedAt: from},
	}, nil
}

func (a fakeAdapter) SupportsSymbol(symbol domain.Symbol) bool      { return a.symbols[symbol] }
func (a fakeAdapter) SymbolMap(symbol domain.Symbol) (string, error) { return string(symbol), nil }
func (a fakeAdapter) AuthKind() domain.AuthKind                     { return domain.AuthNone }
func (a fakeAdapter) RateCost() uint32                              { return 1 }
func (a fakeAdapter) CostPerCall() float64                          { return 0 }

func newTestOrchestrator(t *testing.T, adapters ...fakeAdapter) *Orchestrator {
	reg := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(a))
	}
	engine := resilience.NewEngine(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	rt := router.New(reg, engine.Metrics(), engine, router.MostReliableStrategy{})
	c := cache.New(nil)
	t.Cleanup(c.Close)
	monitor := health.NewMonitor(reg, engine, time.Hour, nil)
	keys, err := config.NewKeyRegistry("", nil)
	require.NoError(t, err)

	return New(reg, rt, engine, c, keys, monitor, DefaultConfig())
}

func btcSymbols() map[domain.Symbol]bool { return map[domain.Symbol]bool{"BTC": true} }

func TestGetPriceFusesConcurrentResponses(t *testing.T) {
	o := newTestOrchestrator(t,
		fakeAdapter{name: "a", price: 100, symbols: btcSymbols()},
		fakeAdapter{name: "b", price: 101, symbols: btcSymbols()},
		fakeAdapter{name: "c", price: 99, symbols: btcSymbols()},
	)

	result, err := o.GetPrice(context.Background(), "BTC", "USD", router.StrategyRace, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Consensus.ParticipatingSources)
	assert.InDelta(t, 100, result.PriceUSD, 2)
}

func TestGetPriceCachesSecondCall(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 100, symbols: btcSymbols()})

	first, err := o.GetPrice(context.Background(), "BTC", "USD", "", false)
	require.NoError(t, err)

	second, err := o.GetPrice(context.Background(), "BTC", "USD", "", false)
	require.NoError(t, err)
	assert.Equal(t, first.PriceUSD, second.PriceUSD)
}

func TestGetPriceReturnsAllProvidersFailedWhenEveryAdapterFails(t *testing.T) {
	o := newTestOrchestrator(t,
		fakeAdapter{name: "a", fail: true, symbols: btcSymbols()},
		fakeAdapter{name: "b", fail: true, symbols: btcSymbols()},
	)

	_, err := o.GetPrice(context.Background(), "BTC", "USD", "", false)
	require.Error(t, err)
	assert.Equal(t, domain.ErrAllProvidersFailed, domain.KindOf(err))
}

func TestGetPriceReturnsValidationErrorOnEmptySymbol(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 100, symbols: btcSymbols()})
	_, err := o.GetPrice(context.Background(), "", "USD", "", false)
	require.Error(t, err)
	assert.Equal(t, domain.ErrValidation, domain.KindOf(err))
}

func TestGetPriceReturnsNoProviderWhenSymbolUnsupported(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 100, symbols: btcSymbols()})
	_, err := o.GetPrice(context.Background(), "ETH", "USD", "", false)
	require.Error(t, err)
	assert.Equal(t, domain.ErrNoProvider, domain.KindOf(err))
}

func TestGetHistoricalReturnsSortedSeries(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 50, symbols: btcSymbols()})
	from := time.Now().Add(-time.Hour)
	to := time.Now()

	series, err := o.GetHistorical(context.Background(), "BTC", from, to, domain.GranularityHour)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.True(t, series[0].ObservedAt.Before(series[1].ObservedAt))
}

func TestHealthReportsProviderStatus(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 100, symbols: btcSymbols()})
	_, err := o.GetPrice(context.Background(), "BTC", "USD", "", false)
	require.NoError(t, err)

	report := o.Health()
	require.Len(t, report.Providers, 1)
	assert.True(t, report.Providers[0].Healthy)
}

func TestGetPriceRaceStrategyCapsProviderCallsAtWidth(t *testing.T) {
	o := newTestOrchestrator(t,
		fakeAdapter{name: "a", price: 100, symbols: btcSymbols()},
		fakeAdapter{name: "b", price: 101, symbols: btcSymbols()},
		fakeAdapter{name: "c", price: 99, symbols: btcSymbols()},
		fakeAdapter{name: "d", price: 102, symbols: btcSymbols()},
		fakeAdapter{name: "e", price: 98, symbols: btcSymbols()},
	)

	result, err := o.GetPrice(context.Background(), "BTC", "USD", router.StrategyRace, false)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Consensus.ParticipatingSources, router.DefaultRaceWidth)
}

func TestAdminPurgeCacheRemovesEntry(t *testing.T) {
	o := newTestOrchestrator(t, fakeAdapter{name: "a", price: 100, symbols: btcSymbols()})
	_, err := o.GetPrice(context.Background(), "BTC", "USD", "", false)
	require.NoError(t, err)

	removed := o.AdminPurgeCache(context.Background(), "")
	assert.Equal(t, -1, removed)
	assert.Equal(t, 0, o.cache.HotItemCount())
}
