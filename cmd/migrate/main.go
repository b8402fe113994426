package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"BoardLedger/internal/observability"
	"BoardLedger/internal/persistence"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|list>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println("  list - print the embedded migrations")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  BOARD_POSTGRES_DSN - Postgres connection string")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	if os.Args[1] == "list" {
		files, err := persistence.ListMigrations(persistence.MigrationsFS(), ".up.sql")
		if err != nil {
			logger.Fatal().Err(err).Msg("list migrations")
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return
	}

	dsn := os.Getenv("BOARD_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/boardledger?sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'list')\n", os.Args[1])
		os.Exit(1)
	}
}
