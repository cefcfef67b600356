package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabledger/internal/config"
	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/logging"
	"github.com/JonMunkholm/tabledger/internal/metrics"
	"github.com/JonMunkholm/tabledger/internal/store"
)

// app carries configuration shared by every subcommand.
type app struct {
	cfg     *config.Config
	envFile string
	output  string
	flags   struct {
		driver    string
		db        string
		actor     string
		logLevel  string
		logFormat string
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tabledger",
		Short:         "Versioned table ingestion with a provenance ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before configuration (missing file is ignored)")
	pf.StringVar(&a.flags.driver, "driver", "", "Store driver: sqlite, postgres, duckdb (env DB_DRIVER)")
	pf.StringVar(&a.flags.db, "db", "", "Database file or DSN (env DATABASE_URL, DB_PATH)")
	pf.StringVar(&a.flags.actor, "actor", "", "User recorded in the ledger (env INGEST_ACTOR)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: text, json (env LOG_FORMAT)")
	pf.StringVarP(&a.output, "output", "o", "text", "Output format: text, json, csv")

	root.AddCommand(
		newIngestCmd(a),
		newIngestFolderCmd(a),
		newBatchCmd(a),
		newHarmonizeCmd(a),
		newQueryCmd(a),
		newLedgerCmd(a),
		newServeCmd(a),
	)
	return root
}

// init loads the env file and configuration, applies flag overrides and
// sets up logging on stderr.
func (a *app) init(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver = a.flags.driver
	}
	if flags.Changed("db") {
		cfg.Database.URL = a.flags.db
	}
	if flags.Changed("actor") {
		cfg.Ingest.Actor = a.flags.actor
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	switch a.output {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("--output %q must be one of: text, json, csv", a.output)
	}

	logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	a.cfg = cfg
	return nil
}

// open connects to the store and builds the service. The returned function
// closes the store.
func (a *app) open(ctx context.Context) (*core.Service, *metrics.Metrics, func(), error) {
	st, err := store.Open(ctx, store.Options{
		Driver:       a.cfg.Database.Driver,
		DSN:          a.cfg.Database.URL,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New(a.cfg.Metrics.Enabled)
	svc, err := core.NewService(ctx, st, core.Options{
		Actor:      a.cfg.Ingest.Actor,
		WriterWait: a.cfg.Ingest.WriterWait,
		Timeout:    a.cfg.Ingest.Timeout,
		MaxParams:  a.cfg.Ingest.InsertBatch,
		Recorder:   m,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	m.WatchGate(svc.Gate())

	slog.Debug("store opened", "driver", a.cfg.Database.Driver)
	return svc, m, func() { st.Close() }, nil
}
