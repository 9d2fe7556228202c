package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/database"
	"github.com/EvgenyQA404/perfume/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const usage = `Usage: tracker <command> [flags]

Commands:
  init-db   create the database schema
  fetch     fetch every link group once and record prices
  record    record one price by hand
  report    write the spreadsheet report
  serve     run the HTTP API and the fetch schedule

Run "tracker <command> -h" for command flags.
`

var commands = map[string]func(ctx context.Context, args []string) error{
	"init-db": runInitDB,
	"fetch":   runFetch,
	"record":  runRecord,
	"report":  runReport,
	"serve":   runServe,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	run, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[2:])
	stop()

	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds what every command needs: config, logger and a lazily opened store
type app struct {
	cfg   *config.Config
	store *database.GormDB
}

type commonFlags struct {
	config string
	debug  bool
}

// newFlagSet creates a command flag set with the shared -config and -debug flags
func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf := &commonFlags{}
	fs.StringVar(&cf.config, "config", getEnv("CONFIG_PATH", "config.yaml"), "path to the YAML config")
	fs.BoolVar(&cf.debug, "debug", false, "verbose logging")
	return fs, cf
}

// bootstrap loads .env and the config file and initializes logging
func bootstrap(name string, cf *commonFlags) (*app, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(cf.config)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(logger.Config{
		Debug:  cfg.Logging.Debug || cf.debug,
		Level:  cfg.Logging.Level,
		Fields: map[string]string{"command": name},
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &app{cfg: cfg}, nil
}

func (a *app) openStore() (*database.GormDB, error) {
	if a.store != nil {
		return a.store, nil
	}
	gdb, err := database.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := gdb.InitSchema(); err != nil {
		gdb.Close()
		return nil, err
	}
	a.store = gdb
	return gdb, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	logger.Sync()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
