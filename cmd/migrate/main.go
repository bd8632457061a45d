// Command migrate applies or rolls back the worker's schema migrations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/recipeai/transcribe-worker/internal/config"
	"github.com/recipeai/transcribe-worker/internal/infrastructure/persistence/postgres/migrations"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "migration source:", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate init:", err)
		os.Exit(1)
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		fmt.Fprintf(os.Stderr, "unknown direction %q, expected \"up\" or \"down\"\n", direction)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	fmt.Printf("migrate %s: ok\n", direction)
}
