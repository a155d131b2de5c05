package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/logging"
	"github.com/golang-migrate/migrate/v4"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.AppEnv)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	slog.Info("connecting to database", "host", cfg.DBHost, "port", cfg.DBPort, "db", cfg.DBName, "user", cfg.DBUser)

	m, err := database.NewMigrator(cfg.MigrateURL())
	if err != nil {
		slog.Error("failed to initialize migrations", "error", err)
		os.Exit(1)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			slog.Error("failed to close migration resources", "source_error", sourceErr, "db_error", dbErr)
		}
	}()

	if err := run(m, command, os.Args[2:]); err != nil {
		slog.Error("migration command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no change: database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil {
			return err
		}
		slog.Info("last migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("current migration version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return errors.New("force needs a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		slog.Info("migration version forced", "version", version)

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  up             apply all pending migrations")
	fmt.Println("  down           roll back the last migration")
	fmt.Println("  version        print the current version")
	fmt.Println("  force VERSION  set the version without running migrations (clears dirty state)")
}
