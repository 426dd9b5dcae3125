package orchestrator

import (
	"context"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/health"
	"github.com/marketcore/aggregator/internal/router"
)

// Health implements health(): the provider/cache aggregate spec.md §4.6
// names.
func (o *Orchestrator) Health() HealthReport {
	rep := o.monitor.Report()
	return HealthReport{
		Status:    rep.Status,
		Providers: rep.Providers,
		HotSize:   o.cache.HotItemCount(),
	}
}

// HealthReport is the orchestrator-level view over health.Report plus
// cache sizing, matching spec.md §4.6's health() shape.
type HealthReport struct {
	Status    string          `json:"status"`
	Providers []health.Status `json:"providers"`
	HotSize   int             `json:"hot_size"`
}

// AdminReloadConfig performs no reload and always returns nil. BYOK keys
// are reloaded only by the key registry's own file watcher
// (internal/config.KeyRegistry.WatchFile); the provider YAML config is read
// once at startup and is not reloaded while the process runs.
func (o *Orchestrator) AdminReloadConfig() error {
	return nil
}

// AdminPurgeCache implements admin_purge_cache(pattern?). An empty
// pattern purges everything; a non-empty pattern is treated as a key
// prefix, matching the cache key layout in internal/cache/key.go.
func (o *Orchestrator) AdminPurgeCache(ctx context.Context, pattern string) int {
	if pattern == "" {
		o.cache.PurgeAll(ctx)
		return -1 // sentinel: "all", exact count not tracked for a full flush
	}
	return o.cache.PurgePrefix(ctx, pattern)
}

// AdminSetKey is a thin pass-through documenting the admin_set_key
// operation; the actual mutation happens through the key registry's own
// file-backed reload so every instance in a multi-process deployment
// converges on the same source of truth rather than accepting
// in-memory-only overrides that would vanish on restart.
func (o *Orchestrator) AdminSetKey(provider string, key string) error {
	return domain.NewError(domain.ErrValidation, provider,
		"admin_set_key is served by editing the BYOK key file; see internal/config.KeyRegistry", nil)
}

// AdminSetStrategy changes the router's default routing strategy
// (spec.md §4.4), taking effect for every subsequent get_price call that
// doesn't name its own strategy.
func (o *Orchestrator) AdminSetStrategy(name router.StrategyName) error {
	strat, err := router.Resolve(name)
	if err != nil {
		return err
	}
	o.router.SetStrategy(strat)
	return nil
}
