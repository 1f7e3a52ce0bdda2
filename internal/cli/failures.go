package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"backoffkit/internal/app"
	"backoffkit/internal/config"
	"backoffkit/internal/journal"
	"backoffkit/internal/platform/httpclient"
	"backoffkit/internal/platform/logger"
)

var (
	failuresLimit  int
	failuresAddr   string
	failuresAsJSON bool
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Print the most recent terminal failures from the journal",
	Long: `Print the most recent terminal failures, newest first.

SQLite, PostgreSQL and Redis journals are read directly (SQLite read-only). The memory
journal lives inside a running "backoffprobe run", so it is fetched from its admin API.`,
	RunE: runFailures,
}

func init() {
	failuresCmd.Flags().IntVar(&failuresLimit, "limit", 20, "number of entries to print")
	failuresCmd.Flags().StringVar(&failuresAddr, "addr", "", "admin API base URL for the memory journal (default from HTTP_ADDR)")
	failuresCmd.Flags().BoolVar(&failuresAsJSON, "json", false, "print entries as JSON")
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close(log) }()

	ctx := cmd.Context()
	var entries []journal.Entry
	switch cfg.Journal.Driver {
	case config.DriverNone, config.DriverMemory:
		addr := failuresAddr
		if addr == "" {
			addr = adminURL(cfg.HTTP.Addr)
		}
		entries, err = fetchFailures(ctx, log, addr, failuresLimit)
	default:
		var a *app.App
		a, err = app.New(ctx, cfg, log, app.ReadOnly())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		entries, err = a.Journal().List(ctx, failuresLimit)
	}
	if err != nil {
		return err
	}

	if failuresAsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	printFailures(cmd.OutOrStdout(), entries)
	return nil
}

// adminURL turns a listen address like ":8080" into a base URL.
func adminURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen
}

func fetchFailures(ctx context.Context, log *slog.Logger, base string, limit int) ([]journal.Entry, error) {
	client := httpclient.New(
		httpclient.WithLogger(log),
		httpclient.WithTimeout(5*time.Second),
		httpclient.WithRetries(2, 200*time.Millisecond),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/failures?limit=%d", strings.TrimRight(base, "/"), limit), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("admin API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("admin API: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var entries []journal.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("admin API: decode: %w", err)
	}
	return entries, nil
}

func printFailures(out io.Writer, entries []journal.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tOPERATION\tREASON\tATTEMPT\tRETRIES\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Operation, e.Reason, e.Attempt, len(e.Attempts), e.Error)
	}
	_ = w.Flush()
}
