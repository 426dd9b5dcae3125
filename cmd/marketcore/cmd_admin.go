package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketcore/aggregator/internal/router"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations (reload, purge cache, set strategy)",
	}
	cmd.AddCommand(newAdminReloadCmd())
	cmd.AddCommand(newAdminPurgeCmd())
	cmd.AddCommand(newAdminSetStrategyCmd())
	return cmd
}

func newAdminReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-config",
		Short: "Call the admin reload hook (performs no reload; keys reload via the key-file watcher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.orch.AdminReloadConfig()
		},
	}
}

func newAdminPurgeCmd() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "Purge cache entries, or the whole cache if --pattern is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			n := a.orch.AdminPurgeCache(context.Background(), pattern)
			if n < 0 {
				fmt.Println("purged entire cache")
			} else {
				fmt.Printf("purged %d entries\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "Key prefix to purge (empty purges everything)")
	return cmd
}

func newAdminSetStrategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-strategy <name>",
		Short: "Change the router's default strategy (fastest, cheapest, most_reliable, race, load_balanced, context_aware)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := a.orch.AdminSetStrategy(router.StrategyName(args[0])); err != nil {
				return err
			}
			fmt.Printf("default strategy set to %s\n", args[0])
			return nil
		},
	}
}
