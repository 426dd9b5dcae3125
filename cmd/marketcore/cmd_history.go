package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcore/aggregator/internal/domain"
)

func newHistoryCmd() *cobra.Command {
	var from, to string
	var granularity string
	var timeout time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <symbol>",
		Short: "Fetch a historical price series for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, toT, err := parseRange(from, to)
			if err != nil {
				return err
			}
			gran, err := parseGranularity(granularity)
			if err != nil {
				return err
			}

			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			series, err := a.orch.GetHistorical(ctx, domain.Symbol(args[0]), fromT, toT, gran)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(series)
			}
			for _, pt := range series {
				fmt.Printf("%s  %-12s  $%.4f\n", pt.ObservedAt.Format(time.RFC3339), pt.Provider, pt.PriceUSD)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", time.Now().Add(-24*time.Hour).Format(time.RFC3339), "Start time (RFC3339)")
	cmd.Flags().StringVar(&to, "to", time.Now().Format(time.RFC3339), "End time (RFC3339)")
	cmd.Flags().StringVar(&granularity, "granularity", "hour", "minute|hour|day")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	fromT, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	toT, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	return fromT, toT, nil
}

func parseGranularity(g string) (domain.Granularity, error) {
	switch g {
	case "minute":
		return domain.GranularityMinute, nil
	case "hour":
		return domain.GranularityHour, nil
	case "day":
		return domain.GranularityDay, nil
	default:
		return 0, fmt.Errorf("invalid --granularity: %s (want minute|hour|day)", g)
	}
}
