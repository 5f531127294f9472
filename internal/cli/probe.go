package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/probe"
)

var (
	probeChainID uint64
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe [url]",
	Short: "Probe a JSON-RPC endpoint once and print the health sample",
	Args:  cobra.ExactArgs(1),
	Run:   runProbe,
}

func init() {
	probeCmd.Flags().Uint64Var(&probeChainID, "chain-id", 0, "expected chain id")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", domain.DefaultProbeTimeout, "probe timeout")
	_ = probeCmd.MarkFlagRequired("chain-id")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	ep := domain.Endpoint{
		ID:      "cli",
		URL:     args[0],
		ChainID: probeChainID,
		Timeout: probeTimeout,
		Enabled: true,
	}

	s := probe.NewClient(nil, clock.Real{}).Probe(context.Background(), ep)
	writeSample(os.Stdout, ep.URL, s)

	if !s.Online {
		os.Exit(1)
	}
}

func writeSample(out io.Writer, url string, s domain.HealthSample) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	_, _ = fmt.Fprintf(w, "url\t%s\n", url)
	_, _ = fmt.Fprintf(w, "online\t%t\n", s.Online)
	_, _ = fmt.Fprintf(w, "response_time_ms\t%d\n", s.ResponseTime)
	_, _ = fmt.Fprintf(w, "chain_id\t%d\n", s.ChainID)
	_, _ = fmt.Fprintf(w, "block_number\t%d\n", s.BlockNumber)
	_, _ = fmt.Fprintf(w, "peer_count\t%d\n", s.PeerCount)
	if s.GasPrice != nil {
		_, _ = fmt.Fprintf(w, "gas_price\t%s\n", s.GasPrice.String())
	}
	_, _ = fmt.Fprintf(w, "syncing\t%t\n", s.Syncing)
	if s.Sync != nil {
		_, _ = fmt.Fprintf(w, "sync_progress\t%d%%\n", s.Sync.Progress)
	}
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "error\t%s (%s)\n", s.Error, s.ErrorKind)
	}
	_ = w.Flush()
}
