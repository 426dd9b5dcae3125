package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP/WebSocket server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			server, err := newAdminServer(cmd, a)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(ctx) }()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down admin server")
				return server.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}
}
