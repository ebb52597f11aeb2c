// migrate applies the embedded PostgreSQL schema.
//
// Usage: migrate [--dsn URL] up|down|status
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"github.com/bosted-app/backend/internal/config"
	"github.com/bosted-app/backend/internal/db"
	"github.com/bosted-app/backend/internal/migrate"
	"github.com/bosted-app/backend/migrations"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dsn := flags.String("dsn", "", "PostgreSQL DSN (default: DATABASE_URL or PG* variables)")
	timeout := flags.Duration("timeout", 30*time.Second, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: migrate [--dsn URL] up|down|status")
	}

	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		*dsn, err = db.BuildPostgresURL(cfg.Postgres)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sqlDB, err := sql.Open("pgx", *dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()

	return execute(ctx, migrate.NewManager(sqlDB, migrations.FS), flags.Arg(0), stdout)
}

func execute(ctx context.Context, mgr *migrate.Manager, command string, stdout io.Writer) error {
	switch command {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			fmt.Fprintf(stdout, "applied %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(stdout, "schema up to date")
		}
		return nil
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "reverted %s\n", name)
		return nil
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, name := range history {
			fmt.Fprintf(stdout, "applied %s\n", name)
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			return err
		}
		for _, name := range pending {
			fmt.Fprintf(stdout, "pending %s\n", name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
