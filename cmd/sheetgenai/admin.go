package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/memkv"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/natskv"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/pgkv"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/kvstore"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/taskqueue"
)

// runAdmin dispatches admin subcommands (hash-key, list-tasks).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "list-tasks":
		return runAdminListTasks(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sheetgenai admin <command> [options]

Commands:
  hash-key     Hash an API key for the auth.api_key_hash config field
  list-tasks   List pending tasks in the queue
  help         Show this help message

Examples:
  sheetgenai admin hash-key
  sheetgenai admin hash-key --cost 12
  sheetgenai admin list-tasks
`)
}

func loadAdminStore(ctx context.Context) (kvstore.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.KV.Backend {
	case "nats":
		conn, err := natskv.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		store, err := conn.Bucket(ctx, cfg.KV.Bucket, 0)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open bucket: %w", err)
		}
		return store, func() { _ = conn.Close() }, nil
	case "postgres":
		pool, err := pgkv.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return pgkv.New(pool), pool.Close, nil
	default:
		// The memory backend holds nothing outside a running server.
		return memkv.New(), func() {}, nil
	}
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost, 4 to 31")
	key := fs.String("key", "", "API key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	apiKey := *key
	if apiKey == "" {
		var err error
		apiKey, err = promptSecret("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if apiKey != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if apiKey == "" {
		return fmt.Errorf("api key must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), *cost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	// The hash goes to stdout so it can be piped straight into config.
	fmt.Println(string(hash))
	return nil
}

func runAdminListTasks(args []string) error {
	fs := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := taskqueue.New(store).PeekAll(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No pending tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tCOL\tENQUEUED\tPROMPT")
	for i := range tasks {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
			tasks[i].Cell.Row, tasks[i].Cell.Col, tasks[i].EnqueuedAt.Format("2006-01-02 15:04:05"), tasks[i].Prompt)
	}
	return w.Flush()
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
