package main

import (
	"context"

	"github.com/smallbiznis/coursemart/internal/seed"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo accounts and a published catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seeder *seed.Seeder
			return runOnceWith(seed.Module, func(ctx context.Context) error {
				result, err := seeder.EnsureDemo(ctx)
				if err != nil {
					return err
				}
				return printJSON(result)
			}, &seeder)
		},
	}
}
