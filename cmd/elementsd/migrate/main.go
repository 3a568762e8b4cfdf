package main

import (
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/migrations/vaultdb"
	"github.com/chainsafe/elements-duel/pkg/pgutil"
	mghelper "github.com/chainsafe/elements-duel/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "elementsd.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err)
	}
	if cfg.Vault.Backend != "postgres" {
		log.Fatalf("vault backend is %q; migrations only apply to postgres", cfg.Vault.Backend)
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err)
	}
	defer db.Close()

	log.Printf("Running vault migrations (%s)...\n", cfg.Database.Database)

	if err := mghelper.RunMigrations(migrate.NewMigrator(db, vaultdb.Migrations), flag.Args()...); err != nil {
		mghelper.Exitf("%s", err)
	}
}
