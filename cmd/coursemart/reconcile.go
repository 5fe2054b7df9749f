package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	reconciliationdomain "github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	var (
		apply           bool
		includeHighRisk bool
		userID          string
		courseID        string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Scan purchases, checkouts and entitlements for drift",
		Long: `Scan for drift between the payment ledger, purchases and entitlements.
Nothing is changed unless --apply is given. High-risk fixes such as
revoking access need --include-high-risk as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := scanFilter(userID, courseID)
			if err != nil {
				return err
			}

			var svc reconciliationdomain.Service
			return runOnce(func(ctx context.Context) error {
				result, err := svc.Run(ctx, reconciliationdomain.RunRequest{
					Filter:          filter,
					DryRun:          !apply,
					IncludeHighRisk: includeHighRisk,
					ActorType:       auditdomain.ActorTypeSystem,
				})
				if err != nil {
					return err
				}
				return printJSON(result)
			}, &svc)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "apply fixes instead of reporting them")
	cmd.Flags().BoolVar(&includeHighRisk, "include-high-risk", false, "also apply fixes that revoke or delete data")
	cmd.Flags().StringVar(&userID, "user", "", "limit to one user id")
	cmd.Flags().StringVar(&courseID, "course", "", "limit to one course id")
	return cmd
}

func scanFilter(userID, courseID string) (reconciliationdomain.ScanFilter, error) {
	var filter reconciliationdomain.ScanFilter
	if userID != "" {
		id, err := snowflake.ParseString(userID)
		if err != nil {
			return filter, fmt.Errorf("invalid --user: %w", err)
		}
		filter.UserID = &id
	}
	if courseID != "" {
		id, err := snowflake.ParseString(courseID)
		if err != nil {
			return filter, fmt.Errorf("invalid --course: %w", err)
		}
		filter.CourseID = &id
	}
	return filter, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
