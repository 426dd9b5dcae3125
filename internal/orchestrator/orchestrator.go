// Package orchestrator implements the Multi-Provider Fetch Core's public
// surface (spec.md §4.6): get_price, get_historical, health, and the
// admin_* operations. It composes the router, resilience engine, cache,
// and consensus packages the way the teacher's DataFacade
// (internal/infrastructure/datafacade/facade.go) composes its providers,
// cache, and circuit map, but dispatches candidates concurrently instead
// of the teacher's sequential fallback loop, per spec.md §4.6's
// "dispatch concurrent provider calls".
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketcore/aggregator/internal/cache"
	"github.com/marketcore/aggregator/internal/config"
	"github.com/marketcore/aggregator/internal/consensus"
	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/health"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
	"github.com/marketcore/aggregator/internal/router"
)

// Config tunes the orchestrator's backpressure and collection window.
type Config struct {
	MaxConcurrentUpstream int           // global in-flight semaphore size, default 64
	CollectionWindow      time.Duration // W_c, default 2s
	ConsensusParams       consensus.Params
	TTLCurrent            time.Duration
	TTLHistorical         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentUpstream: 64,
		CollectionWindow:      2 * time.Second,
		ConsensusParams:       consensus.DefaultParams(),
		TTLCurrent:            cache.TTLCurrent,
		TTLHistorical:         cache.TTLHistorical,
	}
}

// Orchestrator is the single entry point external collaborators use.
type Orchestrator struct {
	registry *provider.Registry
	router   *router.Router
	engine   *resilience.Engine
	cache    *cache.Cache
	keys     *config.KeyRegistry
	monitor  *health.Monitor
	cfg      Config

	sem chan struct{}
}

func New(registry *provider.Registry, rt *router.Router, engine *resilience.Engine, c *cache.Cache, keys *config.KeyRegistry, monitor *health.Monitor, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentUpstream <= 0 {
		cfg.MaxConcurrentUpstream = 64
	}
	return &Orchestrator{
		registry: registry,
		router:   rt,
		engine:   engine,
		cache:    c,
		keys:     keys,
		monitor:  monitor,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrentUpstream),
	}
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.NewError(domain.ErrCancelled, "", "context cancelled waiting for upstream slot", ctx.Err())
	default:
	}
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.NewError(domain.ErrSaturated, "", "upstream concurrency saturated", ctx.Err())
	}
}

func (o *Orchestrator) release() { <-o.sem }

// GetPrice implements get_price: validate, consult cache, fan out to the
// providers the named strategy selects, fuse via consensus, cache,
// return. strategy is spec.md §4.6's optional `strategy?` argument; an
// empty StrategyName uses the router's configured default. costSensitive
// is the "caller tags cost_sensitive" hint spec.md §4.4 attaches to
// ContextAware, degrading its selection to Cheapest.
func (o *Orchestrator) GetPrice(ctx context.Context, symbol domain.Symbol, currency string, strategy router.StrategyName, costSensitive bool) (domain.NormalizedPrice, error) {
	if symbol == "" {
		return domain.NormalizedPrice{}, domain.NewError(domain.ErrValidation, "", "symbol must not be empty", nil)
	}
	if currency == "" {
		currency = "USD"
	}

	key := cache.Key(domain.KindCurrent, symbol, currency)
	var result domain.NormalizedPrice
	_, err := o.cache.GetOrFetch(ctx, key, o.cfg.TTLCurrent, &result, func() (any, error) {
		return o.fetchAndFuse(ctx, symbol, currency, strategy, costSensitive)
	})
	if err != nil {
		return domain.NormalizedPrice{}, err
	}
	return result, nil
}

func (o *Orchestrator) fetchAndFuse(ctx context.Context, symbol domain.Symbol, currency string, strategy router.StrategyName, costSensitive bool) (domain.NormalizedPrice, error) {
	candidates, err := o.router.RouteTopK(symbol, strategy, costSensitive)
	if err != nil {
		return domain.NormalizedPrice{}, err
	}

	result, fuseErr := o.collectAndFuse(ctx, symbol, currency, candidates)
	if fuseErr == nil {
		return result, nil
	}

	// spec.md §4.6: retry the router once on a Consensus error (empty
	// survivor set), not on AllProvidersFailed.
	if domain.KindOf(fuseErr) == domain.ErrConsensus {
		candidates, err = o.router.RouteTopK(symbol, strategy, costSensitive)
		if err != nil {
			return domain.NormalizedPrice{}, fuseErr
		}
		return o.collectAndFuse(ctx, symbol, currency, candidates)
	}
	return domain.NormalizedPrice{}, fuseErr
}

func (o *Orchestrator) collectAndFuse(ctx context.Context, symbol domain.Symbol, currency string, candidates []router.Candidate) (domain.NormalizedPrice, error) {
	collectCtx, cancel := context.WithTimeout(ctx, o.cfg.CollectionWindow)
	defer cancel()

	type attempt struct {
		input Input
		err   error
	}
	results := make(chan attempt, len(candidates))

	var wg sync.WaitGroup
	for _, c := range candidates {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.acquire(collectCtx); err != nil {
				results <- attempt{err: err}
				return
			}
			defer o.release()

			raw, err := o.engine.Do(collectCtx, c.Adapter.Name(), func(ctx context.Context) (any, error) {
				return c.Adapter.FetchCurrent(ctx, symbol, currency)
			})
			if err != nil {
				if o.monitor != nil {
					o.monitor.RecordError(c.Adapter.Name(), err)
				}
				results <- attempt{err: err}
				return
			}
			resp := raw.(domain.RawProviderResponse)
			results <- attempt{input: consensus.Input{
				Response:    resp,
				Reliability: c.Metrics.SuccessRate,
			}}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var inputs []consensus.Input
	var failures []error
	for a := range results {
		if a.err != nil {
			failures = append(failures, a.err)
			continue
		}
		inputs = append(inputs, a.input)
	}

	if len(inputs) == 0 {
		return domain.NormalizedPrice{}, domain.NewError(domain.ErrAllProvidersFailed,
			"", fmt.Sprintf("all %d candidate providers failed", len(candidates)), joinErrors(failures))
	}

	return consensus.Fuse(inputs, o.cfg.ConsensusParams, time.Now(), o.cfg.TTLCurrent)
}

// Input is re-exported so callers constructing test fixtures don't need
// to import internal/consensus directly for this one type.
type Input = consensus.Input

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}
