package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/micro-ha/ble-radar/internal/config"
	"github.com/micro-ha/ble-radar/internal/logging"
	"github.com/micro-ha/ble-radar/internal/storage"
)

// rootCommand builds the CLI. Without a subcommand it serves.
func rootCommand() *cobra.Command {
	v := config.NewViper()
	var envFile string

	root := &cobra.Command{
		Use:           "ble-radar",
		Short:         "Bluetooth LE device tracker with radar profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	flags.String("http-addr", v.GetString(config.KeyHTTPAddr), "HTTP listen address")
	flags.String("db-path", v.GetString(config.KeyDBPath), "SQLite database path")
	flags.String("log-level", v.GetString(config.KeyLogLevel), "Log level: debug, info, warn or error")
	flags.String("radio", v.GetString(config.KeyRadio), "Radio backend: bluez or none")
	flags.Bool("deep-analysis", v.GetBool(config.KeyDeepAnalysis), "Read GATT metadata of nearby devices")
	for key, flag := range map[string]string{
		config.KeyHTTPAddr:     "http-addr",
		config.KeyDBPath:       "db-path",
		config.KeyLogLevel:     "log-level",
		config.KeyRadio:        "radio",
		config.KeyDeepAnalysis: "deep-analysis",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	load := func() (config.Config, *slog.Logger, error) {
		if err := config.LoadDotEnv(envFile); err != nil {
			return config.Config{}, nil, err
		}
		cfg, err := config.Load(v)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return config.Config{}, nil, err
		}
		return cfg, logging.New(cfg.LogLevel), nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan pipeline and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if err := runServe(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server terminated with error", "err", err)
				return err
			}
			return nil
		},
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, logger)
		},
	}
	root.AddCommand(serve, migrateCmd)
	root.RunE = serve.RunE
	return root
}

func runMigrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		return err
	}
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		return err
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db, logger); err != nil {
		logger.Error("migration failed", "err", err)
		return err
	}
	return nil
}
