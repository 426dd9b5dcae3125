package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/marketcore/aggregator/internal/cache"
	"github.com/marketcore/aggregator/internal/domain"
)

// GetHistorical implements get_historical. Unlike GetPrice, which fuses
// concurrent responses, a historical series from a single provider is
// already a coherent time series; fusing two providers' differently-
// sampled series point-by-point would require resampling that spec.md
// does not define, so this returns the first eligible provider's series
// (router-ranked), falling back to the next candidate on failure.
func (o *Orchestrator) GetHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	if symbol == "" {
		return nil, domain.NewError(domain.ErrValidation, "", "symbol must not be empty", nil)
	}
	if !from.Before(to) {
		return nil, domain.NewError(domain.ErrValidation, "", "from must be before to", nil)
	}

	key := cache.HistoricalKey(symbol, "USD", gran, from.Unix(), to.Unix())
	var result []domain.RawProviderResponse
	_, err := o.cache.GetOrFetch(ctx, key, o.cfg.TTLHistorical, &result, func() (any, error) {
		return o.fetchHistorical(ctx, symbol, from, to, gran)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) fetchHistorical(ctx context.Context, symbol domain.Symbol, from, to time.Time, gran domain.Granularity) ([]domain.RawProviderResponse, error) {
	candidates, err := o.router.Route(symbol)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, c := range candidates {
		if acqErr := o.acquire(ctx); acqErr != nil {
			return nil, acqErr
		}
		raw, err := o.engine.Do(ctx, c.Adapter.Name(), func(ctx context.Context) (any, error) {
			return c.Adapter.FetchHistorical(ctx, symbol, from, to, gran)
		})
		o.release()

		if err != nil {
			if o.monitor != nil {
				o.monitor.RecordError(c.Adapter.Name(), err)
			}
			lastErr = err
			continue
		}
		series := raw.([]domain.RawProviderResponse)
		sort.Slice(series, func(i, j int) bool { return series[i].ObservedAt.Before(series[j].ObservedAt) })
		return series, nil
	}

	return nil, domain.NewError(domain.ErrAllProvidersFailed, "", "all candidate providers failed for historical series", lastErr)
}
