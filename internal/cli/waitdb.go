package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"backoffkit/internal/platform/logger"
	"backoffkit/internal/platform/pg"
	"backoffkit/pkg/backoff"
)

var (
	waitDSN         string
	waitAttempts    uint32
	waitInterval    time.Duration
	waitMaxInterval time.Duration
	waitLinear      bool
)

var waitDBCmd = &cobra.Command{
	Use:   "wait-db",
	Short: "Wait until PostgreSQL accepts connections",
	RunE:  runWaitDB,
}

func init() {
	d := pg.DefaultHealthCheckOptions()
	waitDBCmd.Flags().StringVar(&waitDSN, "dsn", "", "PostgreSQL DSN (default JOURNAL_POSTGRES_DSN)")
	waitDBCmd.Flags().Uint32Var(&waitAttempts, "attempts", d.MaxAttempts, "connection attempts, 0 waits until interrupted")
	waitDBCmd.Flags().DurationVar(&waitInterval, "interval", d.Interval, "base delay between attempts")
	waitDBCmd.Flags().DurationVar(&waitMaxInterval, "max-interval", d.MaxInterval, "delay ceiling")
	waitDBCmd.Flags().BoolVar(&waitLinear, "linear", false, "grow the delay linearly instead of exponentially")
	rootCmd.AddCommand(waitDBCmd)
}

func runWaitDB(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close(log) }()

	dsn := waitDSN
	if dsn == "" {
		dsn = cfg.Journal.PostgresDSN
	}
	if dsn == "" {
		return errors.New("no DSN: pass --dsn or set JOURNAL_POSTGRES_DSN")
	}

	opts := pg.DefaultHealthCheckOptions()
	opts.MaxAttempts = waitAttempts
	opts.Interval = waitInterval
	opts.MaxInterval = waitMaxInterval
	if waitLinear {
		opts.Wait = pg.LinearWait
	}
	opts.Logger = backoff.NewSlogLogger(log, "wait-db")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := pg.WaitForDB(ctx, dsn, opts); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "database ready after %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
