package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marketcore/aggregator/internal/orchestrator"
)

func newHealthCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the aggregate provider/cache health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report := a.orch.Health()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printHealthText(report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printHealthText(report orchestrator.HealthReport) {
	fmt.Printf("overall: %s%s%s   hot cache entries: %d\n",
		statusColor(report.Status), report.Status, "\033[0m", report.HotSize)
	for _, p := range report.Providers {
		status := "up"
		if !p.Healthy {
			status = "down"
		}
		fmt.Printf("  %-16s %s%-5s%s  success=%.1f%%  avg_latency=%.0fms  circuit_open=%v\n",
			p.Provider, statusColor(status), status, "\033[0m", p.SuccessRate*100, p.AvgLatencyMS, p.CircuitOpen)
		if p.LastError != "" {
			fmt.Printf("      last_error: %s\n", p.LastError)
		}
		if p.BudgetLimit > 0 {
			fmt.Printf("      budget: %d/%d used (resets %s)  exhausted=%v\n",
				p.BudgetUsed, p.BudgetLimit, p.BudgetResetAt.Format("15:04:05 MST"), p.BudgetExhausted)
		}
		if p.RateLimitRPS > 0 {
			fmt.Printf("      rate limit: %.1f rps, %.1f tokens available\n", p.RateLimitRPS, p.RateLimitTokens)
		}
	}
}

func statusColor(status string) string {
	switch status {
	case "healthy", "up":
		return "\033[32m"
	case "degraded":
		return "\033[33m"
	case "unhealthy", "down":
		return "\033[31m"
	default:
		return "\033[0m"
	}
}
