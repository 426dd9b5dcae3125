package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcore/aggregator/internal/domain"
	"github.com/marketcore/aggregator/internal/router"
)

func newPriceCmd() *cobra.Command {
	var currency string
	var timeout time.Duration
	var asJSON bool
	var strategy string
	var costSensitive bool

	cmd := &cobra.Command{
		Use:   "price <symbol>",
		Short: "Fetch a consensus current price for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			result, err := a.orch.GetPrice(ctx, domain.Symbol(args[0]), currency, router.StrategyName(strategy), costSensitive)
			if err != nil {
				return err
			}
			return printPrice(result, asJSON)
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "USD", "Quote currency")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Routing strategy: fastest|cheapest|most_reliable|race|load_balanced|context_aware (empty uses the router default)")
	cmd.Flags().BoolVar(&costSensitive, "cost-sensitive", false, "Hint context_aware strategies to prefer cheapest providers")
	return cmd
}

func printPrice(p domain.NormalizedPrice, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	fmt.Printf("%s: $%.4f %s (quality=%.2f confidence=%.2f sources=%d/%d rejected=%d)\n",
		p.Symbol, p.PriceUSD, p.Currency, p.Quality, p.Consensus.Confidence,
		p.Consensus.ParticipatingSources, p.Consensus.ParticipatingSources+p.Consensus.RejectedSources,
		p.Consensus.RejectedSources)
	for _, src := range p.Sources {
		fmt.Printf("  %-16s $%.4f  weight=%.3f  observed=%s\n", src.Provider, src.RawPriceUSD, src.Weight, src.ObservedAt.Format(time.RFC3339))
	}
	return nil
}
