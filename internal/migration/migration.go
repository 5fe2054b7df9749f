package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted aggregate. Non-postgres dialects are migrated
// from these definitions.
func Models() []any {
	return []any{
		&userdomain.User{},
		&identitydomain.Identity{},
		&catalogdomain.Course{},
		&catalogdomain.Lesson{},
		&checkoutdomain.Checkout{},
		&paymentdomain.EventRecord{},
		&entitlementdomain.Entitlement{},
		&purchasedomain.Purchase{},
		&purchasedomain.LessonProgress{},
		&outboxdomain.Message{},
		&idempotencydomain.Record{},
		&auditdomain.SupportAction{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files;
// sqlite and mysql fall back to AutoMigrate.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.
	return nil
}
