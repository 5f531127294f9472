// Package probe issues chain-introspection calls against a single JSON-RPC endpoint.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/rpc"
)

const (
	methodChainID     = "eth_chainId"
	methodBlockNumber = "eth_blockNumber"
	methodPeerCount   = "net_peerCount"
	methodGasPrice    = "eth_gasPrice"
	methodSyncing     = "eth_syncing"
)

// Client probes endpoints. It holds no per-endpoint state.
type Client struct {
	httpClient *http.Client
	clock      clock.Clock
	log        *slog.Logger
}

// NewClient creates a probe client. Connections are pooled across endpoints.
func NewClient(httpClient *http.Client, clk clock.Clock) *Client {
	if httpClient == nil {
		httpClient = rpc.NewHTTPClient(0)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		httpClient: httpClient,
		clock:      clk,
		log:        slog.Default().With("component", "probe"),
	}
}

// result is the raw data gathered by one probe.
type result struct {
	chainID     uint64
	blockNumber uint64
	peerCount   uint64
	gasPrice    *big.Int
	sync        *domain.SyncStatus
}

// Probe checks one endpoint and returns a sample. It never returns an error: failures
// are reported through HealthSample.Online and HealthSample.Error, and the call never
// outlives endpoint.Timeout.
func (c *Client) Probe(ctx context.Context, ep domain.Endpoint) domain.HealthSample {
	sample := domain.HealthSample{
		EndpointID: ep.ID,
		Timestamp:  c.clock.Now(),
	}

	timeout := ep.ProbeTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := c.fetch(ctx, rpc.NewClient(ep.URL, c.httpClient))
	sample.ResponseTime = time.Since(start).Milliseconds()

	if err != nil {
		sample.Online = false
		sample.ErrorKind = domain.ErrorKindConnectivity
		sample.Error = describe(ctx, err, timeout)
		return sample
	}

	sample.ChainID = res.chainID
	sample.BlockNumber = res.blockNumber
	sample.PeerCount = res.peerCount
	sample.GasPrice = res.gasPrice
	if res.sync != nil {
		sample.Syncing = true
		sample.Sync = res.sync
	}

	if res.chainID != ep.ChainID {
		sample.Online = false
		sample.ErrorKind = domain.ErrorKindConfiguration
		sample.Error = fmt.Sprintf("chain ID mismatch: expected %d, got %d", ep.ChainID, res.chainID)
		return sample
	}

	sample.Online = true
	return sample
}

// TestConnection performs a single chain-id check and reports whether the endpoint
// answered with the declared chain. Any error yields false; there is no retry.
func (c *Client) TestConnection(ctx context.Context, url string, chainID uint64) bool {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, domain.DefaultProbeTimeout)
		defer cancel()
	}

	raw, err := rpc.NewClient(url, c.httpClient).Call(ctx, methodChainID, nil)
	if err != nil {
		c.log.Debug("Connection test failed", "url", url, "error", err)
		return false
	}

	got, err := parseHexUint64(raw)
	if err != nil {
		c.log.Debug("Connection test returned invalid chain id", "url", url, "error", err)
		return false
	}

	return got == chainID
}

// fetch gathers everything in one batch request, falling back to parallel single
// calls when the endpoint rejects batches.
func (c *Client) fetch(ctx context.Context, client *rpc.Client) (*result, error) {
	res, err := c.fetchBatch(ctx, client)
	if err == nil {
		return res, nil
	}

	if !errors.Is(err, rpc.ErrBatchUnsupported) {
		return nil, err
	}

	c.log.Debug("Batch probe unsupported, using parallel calls", "url", client.Endpoint(), "error", err)
	return c.fetchParallel(ctx, client)
}

func (c *Client) fetchBatch(ctx context.Context, client *rpc.Client) (*result, error) {
	resps, err := client.BatchCall(ctx, []rpc.BatchRequest{
		{Method: methodChainID},
		{Method: methodBlockNumber},
		{Method: methodPeerCount},
		{Method: methodGasPrice},
		{Method: methodSyncing},
	})
	if err != nil {
		return nil, err
	}

	res := &result{}

	// Required fields
	if resps[0].Error != nil {
		return nil, fmt.Errorf("%s: %w", methodChainID, resps[0].Error)
	}
	if res.chainID, err = parseHexUint64(resps[0].Result); err != nil {
		return nil, fmt.Errorf("%s: %w", methodChainID, err)
	}
	if resps[1].Error != nil {
		return nil, fmt.Errorf("%s: %w", methodBlockNumber, resps[1].Error)
	}
	if res.blockNumber, err = parseHexUint64(resps[1].Result); err != nil {
		return nil, fmt.Errorf("%s: %w", methodBlockNumber, err)
	}

	// Best effort: many public providers disable net_peerCount
	if resps[2].Error == nil {
		res.peerCount, _ = parseHexUint64(resps[2].Result)
	}
	if resps[3].Error == nil {
		res.gasPrice, _ = parseHexBig(resps[3].Result)
	}
	if resps[4].Error == nil {
		res.sync, _ = parseSyncing(resps[4].Result)
	}

	return res, nil
}

func (c *Client) fetchParallel(ctx context.Context, client *rpc.Client) (*result, error) {
	res := &result{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		raw, err := client.Call(gctx, methodChainID, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", methodChainID, err)
		}
		res.chainID, err = parseHexUint64(raw)
		return err
	})
	g.Go(func() error {
		raw, err := client.Call(gctx, methodBlockNumber, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", methodBlockNumber, err)
		}
		res.blockNumber, err = parseHexUint64(raw)
		return err
	})
	g.Go(func() error {
		if raw, err := client.Call(gctx, methodPeerCount, nil); err == nil {
			res.peerCount, _ = parseHexUint64(raw)
		}
		return nil
	})
	g.Go(func() error {
		if raw, err := client.Call(gctx, methodGasPrice, nil); err == nil {
			res.gasPrice, _ = parseHexBig(raw)
		}
		return nil
	})
	g.Go(func() error {
		if raw, err := client.Call(gctx, methodSyncing, nil); err == nil {
			res.sync, _ = parseSyncing(raw)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func describe(ctx context.Context, err error, timeout time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s: %v", timeout, err)
	}
	return err.Error()
}

func parseHexUint64(raw json.RawMessage) (uint64, error) {
	n, err := parseHexBig(raw)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("value out of range: %s", n)
	}
	return n.Uint64(), nil
}

func parseHexBig(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid hex response %s: %w", string(raw), err)
	}
	return parseHexString(s)
}

func parseHexString(hexStr string) (*big.Int, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(hexStr, "0x"), 16); !ok {
		return nil, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return n, nil
}

// parseSyncing decodes eth_syncing, which is either false or a progress object.
func parseSyncing(raw json.RawMessage) (*domain.SyncStatus, error) {
	var syncing bool
	if err := json.Unmarshal(raw, &syncing); err == nil {
		return nil, nil
	}

	var obj struct {
		StartingBlock string `json:"startingBlock"`
		CurrentBlock  string `json:"currentBlock"`
		HighestBlock  string `json:"highestBlock"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid eth_syncing response: %w", err)
	}

	status := &domain.SyncStatus{}
	if n, err := parseHexString(obj.StartingBlock); err == nil && n.IsUint64() {
		status.StartingBlock = n.Uint64()
	}
	if n, err := parseHexString(obj.CurrentBlock); err == nil && n.IsUint64() {
		status.CurrentBlock = n.Uint64()
	}
	if n, err := parseHexString(obj.HighestBlock); err == nil && n.IsUint64() {
		status.HighestBlock = n.Uint64()
	}
	status.Progress = domain.SyncProgress(status.CurrentBlock, status.HighestBlock)

	return status, nil
}
