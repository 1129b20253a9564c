package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/store"
)

const defaultConfigPath = "config/analyzer.yaml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "analyzer",
		Short:         "UX event store and rule-based issue detector",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging("info")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $CONFIG_PATH or "+defaultConfigPath+")")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))

	return cmd
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// loadConfig reads .env, then the config file. A missing default config file
// falls back to built-in defaults; a missing explicit one is an error.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	path := opts.configPath
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("Config file not found, using defaults")
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	opts := store.DefaultOptions(cfg.Store.Path)
	opts.Driver = cfg.Store.Driver
	opts.DSN = cfg.Store.DSN
	opts.EnableWAL = cfg.Store.WAL()
	opts.BusyTimeoutMS = cfg.Store.BusyTimeoutMS
	opts.MaxOpenConns = cfg.Store.MaxOpenConns
	opts.MaxIdleConns = cfg.Store.MaxIdleConns

	s, err := store.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", s.Driver()).Msg("Event store opened")
	return s, nil
}
