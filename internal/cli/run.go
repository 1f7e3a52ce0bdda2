package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"backoffkit/internal/app"
	"backoffkit/internal/platform/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Probe the target on PROBE_SCHEDULE and serve the admin API",
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close(log) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Run(ctx); err != nil {
		log.Error("stopped with error", "error", err)
		return err
	}
	log.Info("stopped")
	return nil
}
