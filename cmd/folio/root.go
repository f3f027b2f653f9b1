// Package main provides the CLI entrypoint for folio.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/folio/internal/config"
	"github.com/jmylchreest/folio/internal/state"
	"github.com/jmylchreest/folio/internal/storage"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		backend    string
		dir        string
		key        string
	}
	logger *slog.Logger

	// stateStore is the global store instance
	stateStore *state.Store
	closeArea  func() error
	session    storage.Area
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Persistent site settings store",
	Long: `folio keeps a site's user settings (currently the color theme) in a
persistent key-value store and reports changes made by other sessions.

The backing store is a directory of item files by default. SQLite, Redis and
an in-process memory store are also available.

Running folio without a subcommand launches the interactive theme picker.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyOverrides(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		area, closeFn, err := cfg.OpenArea(logger)
		if err != nil {
			return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
		}
		closeArea = closeFn

		session = storage.NewOrigin(storage.WithLogger(logger)).Context(storage.KindSession)
		stateStore = state.NewStore(area,
			state.WithKey(cfg.Storage.Key),
			state.WithSessionArea(session),
			state.WithLogger(logger),
		)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if stateStore != nil {
			stateStore.Close()
		}
		if session != nil {
			session.Close()
		}
		if closeArea != nil {
			return closeArea()
		}
		return nil
	},
	// Default to TUI when no subcommand is provided
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/folio/config.toml)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.backend, "backend", "",
		"Storage backend (file, sqlite, redis, memory)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.dir, "dir", "",
		"Storage directory for the file backend (default: ~/.local/share/folio/storage)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.key, "key", "",
		"Storage key the state is kept under")
}

// applyOverrides copies explicitly set global flags onto c.
func applyOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		c.Storage.Backend = globalOpts.backend
	}
	if flags.Changed("dir") {
		c.Storage.Dir = globalOpts.dir
	}
	if flags.Changed("key") {
		c.Storage.Key = globalOpts.key
	}
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
