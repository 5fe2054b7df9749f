package main

import (
	"context"

	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	"github.com/spf13/cobra"
)

func dispatchOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch-outbox",
		Short: "Send queued notification emails once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc outboxdomain.Service
			return runOnce(func(ctx context.Context) error {
				result, err := svc.Dispatch(ctx)
				if err != nil {
					return err
				}
				return printJSON(result)
			}, &svc)
		},
	}
}
