package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"backoffkit/internal/app"
	"backoffkit/internal/platform/logger"
)

var (
	onceURL     string
	onceProfile string
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Probe the target once, with retries; the exit code reflects the result",
	RunE:  runOnce,
}

func init() {
	onceCmd.Flags().StringVar(&onceURL, "url", "", "target URL (overrides PROBE_URL)")
	onceCmd.Flags().StringVar(&onceProfile, "profile", "", "retry profile name (overrides PROBE_PROFILE)")
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close(log) }()

	if onceURL != "" {
		cfg.Probe.URL = onceURL
	}
	if onceProfile != "" {
		if _, err := cfg.Profile(onceProfile); err != nil {
			return err
		}
		cfg.Probe.Profile = onceProfile
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Once(ctx); err != nil {
		return fmt.Errorf("probe %s failed: %w", cfg.Probe.URL, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", cfg.Probe.URL)
	return nil
}
