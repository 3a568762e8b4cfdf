package vaultdb

import (
	"context"
	"log"

	mghelper "github.com/chainsafe/elements-duel/pkg/pgutil/migrations"
	vaultpg "github.com/chainsafe/elements-duel/pkg/vault/pg"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating secrets table...")
		if err := mghelper.CreateSchema(ctx, db, &vaultpg.SecretDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &vaultpg.SecretDao{}, "created_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping secrets table...")
		return mghelper.DropTables(ctx, db, &vaultpg.SecretDao{})
	})
}
