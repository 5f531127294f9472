package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/infra/storage/postgres"
	"github.com/vietddude/rpcsla/internal/sla"
)

var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report [org_id]",
	Short: "Print an SLA report for an organization from stored history",
	Args:  cobra.ExactArgs(1),
	Run:   runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "report period in days, ending now")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	if err := writeReport(ctx, os.Stdout, postgres.NewMetricRepo(db), args[0], reportDays, time.Now().UTC()); err != nil {
		slog.Error("Failed to build report", "error", err)
		os.Exit(1)
	}
}

// writeReport builds the report for the days ending at now and writes it as indented JSON.
func writeReport(ctx context.Context, w io.Writer, reader storage.HistoryReader, orgID string, days int, now time.Time) error {
	period := domain.Period{Start: now.AddDate(0, 0, -days), End: now}

	history, err := reader.Metrics(ctx, orgID, period.Start, period.End)
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	episodes, err := reader.Episodes(ctx, orgID, period.Start, period.End)
	if err != nil {
		return fmt.Errorf("failed to read breach episodes: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sla.BuildReport(orgID, period, history, episodes, now))
}
