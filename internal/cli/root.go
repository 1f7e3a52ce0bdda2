// Package cli implements the backoffprobe command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"backoffkit/internal/config"
	"backoffkit/internal/platform/logger"
)

var isDebug bool

var rootCmd = &cobra.Command{
	Use:   "backoffprobe",
	Short: "Probe an HTTP endpoint with retries and journal terminal failures",
	Long: `backoffprobe calls a target on a schedule, retrying failed calls with the configured
backoff profile. Calls that stop retrying without success are written to a journal
(memory, SQLite, PostgreSQL or Redis) and counted in Prometheus metrics.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads configuration and builds the logger. Console output goes to w.
func setup(w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.Log.ConsoleLevel
	if isDebug {
		level = "debug"
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: level,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "backoffprobe",
		Console:      w,
	})
	return cfg, log, nil
}
