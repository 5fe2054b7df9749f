package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/access"
	"github.com/smallbiznis/coursemart/internal/audit"
	"github.com/smallbiznis/coursemart/internal/authorization"
	"github.com/smallbiznis/coursemart/internal/catalog"
	"github.com/smallbiznis/coursemart/internal/checkout"
	"github.com/smallbiznis/coursemart/internal/checkoutflow"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/entitlement"
	"github.com/smallbiznis/coursemart/internal/idempotency"
	"github.com/smallbiznis/coursemart/internal/identity"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/migration"
	"github.com/smallbiznis/coursemart/internal/observability"
	"github.com/smallbiznis/coursemart/internal/outbox"
	"github.com/smallbiznis/coursemart/internal/payment"
	"github.com/smallbiznis/coursemart/internal/providers"
	"github.com/smallbiznis/coursemart/internal/purchase"
	"github.com/smallbiznis/coursemart/internal/reconciliation"
	"github.com/smallbiznis/coursemart/internal/user"
	"github.com/smallbiznis/coursemart/pkg/db"
	"go.uber.org/fx"
)

const commandTimeout = 5 * time.Minute

// coreModules wires infrastructure and every domain service. Commands add
// the server or scheduler on top.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		providers.Module,

		user.Module,
		identity.Module,
		catalog.Module,
		checkout.Module,
		payment.Module,
		purchase.Module,
		entitlement.Module,
		checkoutflow.Module,
		access.Module,
		outbox.Module,
		idempotency.Module,
		audit.Module,
		authorization.Module,
		reconciliation.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func runOnce(fn func(ctx context.Context) error, targets ...any) error {
	return runOnceWith(fx.Options(), fn, targets...)
}

// runOnceWith starts a short-lived app, runs fn and stops the app again.
// targets are populated from the container before fn runs.
func runOnceWith(extra fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		coreModules(),
		extra,
		fx.NopLogger,
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)
	if err := app.Stop(context.Background()); err != nil && runErr == nil {
		return err
	}
	return runErr
}
