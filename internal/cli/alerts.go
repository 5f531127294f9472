package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage/postgres"
)

var alertsAll bool

var alertsCmd = &cobra.Command{
	Use:   "alerts [org_id]",
	Short: "List stored SLA alerts for an organization",
	Args:  cobra.ExactArgs(1),
	Run:   runAlerts,
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsAll, "all", false, "include acknowledged alerts")
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	alerts, err := postgres.NewAlertRepo(db).List(ctx, args[0], alertsAll)
	if err != nil {
		slog.Error("Failed to list alerts", "error", err)
		os.Exit(1)
	}

	writeAlerts(os.Stdout, alerts)
}

func writeAlerts(out io.Writer, alerts []domain.SLAAlert) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tENDPOINT\tMETRIC\tSEVERITY\tCOMPLIANCE\tACK\tCREATED")
	for _, a := range alerts {
		endpoint := a.EndpointID
		if endpoint == "" {
			endpoint = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%t\t%s\n",
			a.ID, endpoint, a.Type, a.Severity, a.Compliance, a.Acknowledged, a.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
