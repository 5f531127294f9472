package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage/postgres"
)

var endpointIDs []string

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the endpoints stored in the database",
	Run:   runEndpoints,
}

func init() {
	endpointsCmd.Flags().StringSliceVar(&endpointIDs, "id", nil, "only show these endpoint ids")
	rootCmd.AddCommand(endpointsCmd)
}

func openDB(ctx context.Context) *postgres.DB {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("No database configured")
		os.Exit(1)
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}

func runEndpoints(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	repo := postgres.NewEndpointRepo(db)
	var (
		eps []domain.Endpoint
		err error
	)
	if len(endpointIDs) > 0 {
		eps, err = repo.ListByIDs(ctx, endpointIDs)
	} else {
		eps, err = repo.List(ctx)
	}
	if err != nil {
		slog.Error("Failed to list endpoints", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tNAME\tNETWORK\tCHAIN\tENABLED\tPRIORITY\tURL")
	for _, ep := range eps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%d\t%s\n",
			ep.ID, ep.OwnerID, ep.Name, ep.Network, ep.ChainID, ep.Enabled, ep.Priority, ep.URL)
	}
	_ = w.Flush()
}
