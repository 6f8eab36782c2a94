package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/contractreview/internal/adapter/postgres"
	"github.com/Strob0t/contractreview/internal/config"
	"github.com/Strob0t/contractreview/internal/domain/task"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "show-task":
		return runAdminShowTask(args[1:])
	case "gen-api-key":
		return runAdminGenAPIKey()
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: contractreview admin <command> [options]

Commands:
  migrate       Apply, roll back or inspect archive migrations
  show-task     Print an archived task
  gen-api-key   Generate a random API key for auth.api_key
  help          Show this help message

Examples:
  contractreview admin migrate --up
  contractreview admin migrate --down --steps 1
  contractreview admin migrate
  contractreview admin show-task --id 0b6c1c2e-...
  contractreview admin gen-api-key
`)
}

func loadDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("postgres.dsn (or DATABASE_URL) is not set")
	}
	return cfg.Postgres.DSN, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	up := fs.Bool("up", false, "apply pending migrations")
	down := fs.Bool("down", false, "roll back migrations")
	steps := fs.Int("steps", 1, "number of migrations to roll back with --down")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *up && *down {
		return errors.New("--up and --down are mutually exclusive")
	}

	dsn, err := loadDSN()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch {
	case *up:
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
	case *down:
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return err
		}
	}

	version, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "schema version: %d\n", version)
	return nil
}

func runAdminShowTask(args []string) error {
	fs := flag.NewFlagSet("show-task", flag.ContinueOnError)
	id := fs.String("id", "", "task id (required)")
	asJSON := fs.Bool("json", false, "print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn (or DATABASE_URL) is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	t, err := postgres.NewArchive(pool).Load(ctx, *id)
	if err != nil {
		return fmt.Errorf("load task %s: %w", *id, err)
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	return printTask(os.Stdout, t)
}

func printTask(out io.Writer, t *task.Task) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", t.ID)
	fmt.Fprintf(w, "STATE\t%s\n", t.State)
	fmt.Fprintf(w, "CREATED\t%s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "UPDATED\t%s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.Error != nil {
		fmt.Fprintf(w, "ERROR\t%s: %s\n", t.Error.Code, t.Error.Message)
	}
	if t.Cancellation != nil {
		fmt.Fprintf(w, "CANCELED\t%s %s\n", t.Cancellation.Reason, t.Cancellation.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STATE\tAT")
	for _, h := range t.History {
		fmt.Fprintf(w, "%s\t%s\n", h.State, h.Timestamp.Format(time.RFC3339Nano))
	}
	return w.Flush()
}

func runAdminGenAPIKey() error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("read random: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(b)
	fmt.Fprintln(os.Stdout, key)
	if term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
		fmt.Fprintln(os.Stderr, "set it as auth.api_key or CONTRACTREVIEW_API_KEY; clients send it in X-API-Key")
	}
	return nil
}
