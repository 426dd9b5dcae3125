// Command marketcore is the CLI entry point wiring every package into a
// running aggregator, grounded on the teacher's cmd/cryptorun/main.go:
// zerolog console-writer setup, a cobra root command, and flag-driven
// subcommands, but scoped to the four operations spec.md §4.6 exposes
// instead of the teacher's scan/menu surface.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketcore/aggregator/internal/cache"
	"github.com/marketcore/aggregator/internal/config"
	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/health"
	"github.com/marketcore/aggregator/internal/interfaces/admin"
	"github.com/marketcore/aggregator/internal/orchestrator"
	"github.com/marketcore/aggregator/internal/provider"
	"github.com/marketcore/aggregator/internal/resilience"
	"github.com/marketcore/aggregator/internal/router"
)

const (
	appName = "marketcore"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-provider crypto market data aggregator",
		Version: version,
		Long: `marketcore fans out price requests across CoinGecko, CoinMarketCap,
CoinPaprika, and CryptoCompare, reconciles them with MAD outlier rejection
and a reliability-weighted consensus, and serves the result from a layered
cache with circuit-breaking and BYOK key management.`,
	}

	rootCmd.PersistentFlags().String("providers-config", "config/providers.yaml", "Path to providers.yaml")
	rootCmd.PersistentFlags().String("keys-file", "", "Path to the BYOK KEY=VALUE key file")
	rootCmd.PersistentFlags().String("redis-addr", "", "Optional warm-tier Redis address (host:port)")

	rootCmd.AddCommand(newPriceCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app bundles the wired components a command needs; each subcommand builds
// one from the persistent flags rather than sharing global state.
type app struct {
	orch   *orchestrator.Orchestrator
	keys   *config.KeyRegistry
	engine *resilience.Engine
}

func buildApp(cmd *cobra.Command) (*app, func(), error) {
	providersConfigPath, _ := cmd.Flags().GetString("providers-config")
	keysFile, _ := cmd.Flags().GetString("keys-file")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")

	providersCfg, err := config.LoadProvidersConfig(providersConfigPath)
	if err != nil {
		return nil, nil, err
	}

	config.RegisterValidator("coinmarketcap", provider.ValidateCoinMarketCapKey)
	config.RegisterValidator("cryptocompare", provider.ValidateCryptoCompareKey)

	keys, err := config.NewKeyRegistry(keysFile, config.DefaultValidators())
	if err != nil {
		return nil, nil, err
	}
	if err := keys.WatchFile(); err != nil {
		log.Warn().Err(err).Msg("key file watch not started")
	}

	httpClient := &http.Client{Timeout: provider.DefaultTimeout}
	registry := provider.NewRegistry()
	registerAdapters(registry, providersCfg, keys, httpClient)

	engine := resilience.NewEngine(resilience.DefaultRetryConfig())
	providersCfg.ApplyTo(engine)

	rt := router.New(registry, engine.Metrics(), engine, router.MostReliableStrategy{})

	c := cache.New(newRedisClient(redisAddr))

	monitor := health.NewMonitor(registry, engine, 60*time.Second, func(providerName, reason string) {
		log.Warn().Str("provider", providerName).Str("reason", reason).Msg("health alert")
	})
	monitor.Start(cmd.Context())

	orch := orchestrator.New(registry, rt, engine, c, keys, monitor, orchestrator.DefaultConfig())

	cleanup := func() {
		monitor.Stop()
		keys.Close()
		c.Close()
	}
	return &app{orch: orch, keys: keys, engine: engine}, cleanup, nil
}

// registerAdapters builds one adapter per enabled provider entry in the
// config, wiring its BYOK key if one is configured.
func registerAdapters(registry *provider.Registry, cfg *config.ProvidersConfig, keys *config.KeyRegistry, httpClient *http.Client) {
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		apiKey := ""
		if k, ok := keys.Get(name); ok {
			apiKey = k.Key
		}
		adapterCfg := provider.Config{
			Name:        name,
			BaseURL:     p.BaseURL,
			APIKey:      apiKey,
			Timeout:     p.GetRequestTimeout(),
			CostPerCall: float64(p.RPS),
		}

		var a provider.Adapter
		switch name {
		case "coingecko":
			a = provider.NewCoinGecko(adapterCfg, httpClient)
		case "coinmarketcap":
			a = provider.NewCoinMarketCap(adapterCfg, httpClient)
		case "coinpaprika":
			a = provider.NewCoinPaprika(adapterCfg, httpClient)
		case "cryptocompare":
			a = provider.NewCryptoCompare(adapterCfg, httpClient)
		default:
			log.Warn().Str("provider", name).Msg("no adapter constructor for configured provider, skipping")
			continue
		}
		if a.AuthKind() != domain.AuthNone && apiKey == "" {
			log.Warn().Str("provider", name).Msg("adapter requires an API key and none is configured, skipping")
			continue
		}

		if err := registry.Register(a); err != nil {
			log.Error().Err(err).Str("provider", name).Msg("failed to register adapter")
		}
	}
}

func newAdminServer(cmd *cobra.Command, a *app) (*admin.Server, error) {
	return admin.NewServer(a.orch, admin.DefaultConfig())
}
