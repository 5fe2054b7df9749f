package main

import (
	"github.com/smallbiznis/coursemart/internal/scheduler"
	"github.com/smallbiznis/coursemart/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background sweeps",
		Long: `Run the HTTP API. Checkout expiry, auto-settlement, outbox dispatch
and idempotency pruning run in-process unless --scheduler=false.

Configuration is read from the environment (and .env when present).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{coreModules(), server.Module}
			if withScheduler {
				opts = append(opts, scheduler.Module)
			}
			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run background sweeps in this process")
	return cmd
}
