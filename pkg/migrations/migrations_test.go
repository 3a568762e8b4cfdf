package migrations

import (
	"context"
	"testing"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/elements-duel/pkg/migrations/vaultdb"
	"github.com/chainsafe/elements-duel/pkg/pgutil"
	mghelper "github.com/chainsafe/elements-duel/pkg/pgutil/migrations"
)

func TestVaultDBMigrations_UpAndDown(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, vaultdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Fatal("expected migrations to run, but none were applied")
	}

	pgutil.AssertTableExists(t, db, "secrets")
	pgutil.AssertTableExists(t, db, "bun_migrations")
	pgutil.AssertIndexExists(t, db, "idx_secrets_created_at")

	if _, err := migrator.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	pgutil.AssertTableNotExists(t, db, "secrets")
}

func TestVaultDBMigrations_Commands(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	migrator := migrate.NewMigrator(db, vaultdb.Migrations)
	for _, cmd := range []string{"init", "up", "status"} {
		if err := mghelper.RunMigrations(migrator, cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
	}
	pgutil.AssertTableExists(t, db, "secrets")

	// nothing pending
	if err := mghelper.RunMigrations(migrator, "up"); err != nil {
		t.Fatalf("second up failed: %v", err)
	}
	if err := mghelper.RunMigrations(migrator, "down"); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	pgutil.AssertTableNotExists(t, db, "secrets")

	if err := mghelper.RunMigrations(migrator, "sideways"); err == nil {
		t.Error("expected unknown command error")
	}
}
