package main

import (
	"context"
	"fmt"
	"os"

	"ms-checkin/internal/config"
	"ms-checkin/internal/database"
	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var dir string
	var steps, force int
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", cfg.Database.MigrationsDir, "migrations directory")
	flagSet.IntVar(&steps, "steps", 0, "apply N migrations (negative rolls back)")
	flagSet.IntVar(&force, "force", -1, "force the schema version without running migrations")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] up|down|version\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	command := "up"
	if flagSet.NArg() > 0 {
		command = flagSet.Arg(0)
	}

	l := logger.NewLogger("checkin-migrate")
	defer l.Close()

	sqldb, err := database.OpenSQL(context.Background(), cfg.Database, l)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(sqldb, dir, l)
	defer runner.Close()

	switch {
	case force >= 0:
		return runner.Force(force)
	case steps != 0:
		return runner.Steps(steps)
	}

	switch command {
	case "up":
		return runner.MigrateUp()
	case "down":
		return runner.MigrateDown()
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
