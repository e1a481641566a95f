package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mobilize-crm/pipeline-service/internal/bootstrap"
	"github.com/mobilize-crm/pipeline-service/internal/storage/sqldb"
)

func main() {
	driver := flag.String("driver", "sqlite", "database driver (sqlite, postgres)")
	dsn := flag.String("dsn", "file:pipeline.db", "database connection string")
	offices := flag.String("offices", "", "comma-separated office IDs to seed")
	flag.Parse()

	if *offices == "" {
		fmt.Fprintln(os.Stderr, "Usage: pipeline-seed -offices office1,office2 [-driver sqlite] [-dsn file:pipeline.db]")
		fmt.Fprintln(os.Stderr, "Creates the main people and church pipelines for each office. Idempotent.")
		os.Exit(1)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := sqldb.New(sqldb.Config{Driver: *driver, DSN: *dsn})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	officeIDs := []string{}
	for _, id := range strings.Split(*offices, ",") {
		if id = strings.TrimSpace(id); id != "" {
			officeIDs = append(officeIDs, id)
		}
	}

	seeder := bootstrap.New(store, logger)
	if err := seeder.SeedOffices(context.Background(), officeIDs); err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded main pipelines for %d office(s)\n", len(officeIDs))
}
