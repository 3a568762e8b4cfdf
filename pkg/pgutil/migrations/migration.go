// Package migrations drives bun migrations from the elementsd migrate command
// and gives migration steps small schema helpers.
package migrations

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const usageText = `Usage:
  migrate [-config elementsd.yaml] <command>

Commands:
  init     create the bun_migrations bookkeeping tables
  up       apply every pending vault migration
  down     roll back the last migration group
  status   list applied and pending migrations

Example:
  go run ./cmd/elementsd/migrate -config elementsd.yaml up
`

// Usage prints the command help and exits with status 2
func Usage() {
	fmt.Fprint(os.Stderr, usageText)
	flag.PrintDefaults()
	os.Exit(2)
}

// Exitf prints the message followed by the usage text
func Exitf(s string, args ...any) {
	fmt.Fprintf(os.Stderr, s+"\n", args...)
	Usage()
}

// CreateSchema creates the tables of models unless they exist
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// DropTables drops the tables of models if present
func DropTables(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", model, err)
		}
	}
	return nil
}

// CreateModelIndexes adds one idx_<table>_<column> index per column
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	for _, column := range columns {
		name, err := indexName(db, model, column)
		if err != nil {
			return err
		}
		_, err = db.NewCreateIndex().Model(model).Index(name).Column(column).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

func indexName(db bun.IDB, model any, column string) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model cannot be nil")
	}
	table := db.NewCreateIndex().Model(model).GetTableName()
	if table == "" {
		return "", fmt.Errorf("failed to resolve table name for model %T", model)
	}
	table = strings.NewReplacer(`"`, "", ".", "_").Replace(table)
	return "idx_" + table + "_" + column, nil
}

// RunMigrations executes the command named by args[0]
func RunMigrations(migrator *migrate.Migrator, args ...string) error {
	ctx := context.Background()
	if len(args) == 0 {
		return fmt.Errorf("no command provided")
	}

	switch args[0] {
	case "init":
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		log.Println("migration tables created")
	case "up":
		return locked(ctx, migrator, func() error {
			group, err := migrator.Migrate(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				log.Println("vault schema is up to date")
			} else {
				log.Printf("migrated to %s", group)
			}
			return nil
		})
	case "down":
		return locked(ctx, migrator, func() error {
			group, err := migrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				log.Println("nothing to roll back")
			} else {
				log.Printf("rolled back %s", group)
			}
			return nil
		})
	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}
		log.Printf("migrations: %s", ms)
		log.Printf("pending: %s", ms.Unapplied())
		log.Printf("last group: %s", ms.LastGroup())
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

// locked runs fn while holding the migrator's table lock
func locked(ctx context.Context, migrator *migrate.Migrator, fn func() error) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.Printf("failed to release migration lock: %v", err)
		}
	}()
	return fn()
}
