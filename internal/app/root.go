package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clxrityy/tapbump/internal/config"
)

var (
	configFile  string
	tapDir      string
	dbPath      string
	metricsFile string
	noHistory   bool
	verbose     bool

	// RootCmd is the root command for tapbump
	RootCmd = &cobra.Command{
		Use:   "tapbump",
		Short: "Keep a Homebrew tap's Python formulas current with PyPI",
		Long: `tapbump checks PyPI for new releases of the packages a Homebrew tap
ships and bumps each formula's source URL and sha256 to match.

Every package is processed on its own: a failure fetching, hashing or
rewriting one formula is reported and the remaining packages still run.
Each run is recorded in a local history database.

Quick Start:
  1. cd path/to/homebrew-tap
  2. tapbump check              # see what is behind
  3. tapbump update --style     # bump formulas and run brew style
  4. git commit -am "Bump formulas" && git push

Examples:
  # Update only one formula
  tapbump update --package gatenet

  # Report without downloading or writing anything
  tapbump check

  # Show what happened recently
  tapbump history --limit 10

  # Keep formulas current in the background
  tapbump watch --daemon --interval 6h`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: <tap-dir>/tapbump.yaml or ~/.config/tapbump/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&tapDir, "tap-dir", "", "tap repository root (default: current directory)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (default: ~/.config/tapbump/history.db)")
	RootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record runs in the history database")
	RootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after each run")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(updateCmd)
	RootCmd.AddCommand(checkCmd)
	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(configCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, so an interrupted run stops after the current request.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger. Logs go to w so that stdout only
// carries results.
func newLogger(w io.Writer, json bool) *logrus.Logger {
	log := logrus.New()
	log.Out = w
	if json {
		log.Formatter = &logrus.JSONFormatter{}
	} else {
		log.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	log.Level = logrus.InfoLevel
	if verbose {
		log.Level = logrus.DebugLevel
	}
	return log
}

// loadConfig resolves configuration with the global flags applied as
// overrides.
func loadConfig() (*config.Config, error) {
	overrides := map[string]any{}
	if tapDir != "" {
		abs, err := filepath.Abs(tapDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tap directory: %w", err)
		}
		overrides[config.KeyTapDir] = abs
	}
	if dbPath != "" {
		overrides[config.KeyDBPath] = dbPath
	}
	if metricsFile != "" {
		overrides[config.KeyMetricsFile] = metricsFile
	}

	cfg, err := config.Load(config.Options{ConfigFile: configFile, Overrides: overrides})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// stateFile returns a path in the tapbump config directory, creating the
// directory if needed.
func stateFile(name string) (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}
