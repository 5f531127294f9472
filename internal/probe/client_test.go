package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/domain"
)

// mockNode answers JSON-RPC calls from a method -> result table. Methods missing from
// the table get a -32601 error.
type mockNode struct {
	results     map[string]any
	rejectBatch bool
	delay       time.Duration
	batchCalls  atomic.Int32
	singleCalls atomic.Int32
}

func (m *mockNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-r.Context().Done():
			return
		}
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		m.batchCalls.Add(1)
		if m.rejectBatch {
			w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch not allowed"}}`))
			return
		}
		var reqs []map[string]any
		json.Unmarshal(raw, &reqs)
		out := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, m.answer(req))
		}
		json.NewEncoder(w).Encode(out)
		return
	}

	m.singleCalls.Add(1)
	var req map[string]any
	json.Unmarshal(raw, &req)
	json.NewEncoder(w).Encode(m.answer(req))
}

func (m *mockNode) answer(req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	resp := map[string]any{"jsonrpc": "2.0", "id": req["id"]}
	if result, ok := m.results[method]; ok {
		resp["result"] = result
	} else {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	return resp
}

func healthyNode(chainHex string) *mockNode {
	return &mockNode{results: map[string]any{
		"eth_chainId":     chainHex,
		"eth_blockNumber": "0x12d687",
		"net_peerCount":   "0x19",
		"eth_gasPrice":    "0x3b9aca00",
		"eth_syncing":     false,
	}}
}

func newTestClient() *Client {
	return NewClient(nil, clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestProbe_Healthy(t *testing.T) {
	node := healthyNode("0x1")
	server := httptest.NewServer(node)
	defer server.Close()

	ep := domain.Endpoint{ID: "ep-1", URL: server.URL, ChainID: 1, Timeout: 2 * time.Second}
	sample := newTestClient().Probe(context.Background(), ep)

	if !sample.Online {
		t.Fatalf("expected online sample, got error %q", sample.Error)
	}
	if sample.BlockNumber != 1234567 {
		t.Errorf("expected block 1234567, got %d", sample.BlockNumber)
	}
	if sample.PeerCount != 25 {
		t.Errorf("expected 25 peers, got %d", sample.PeerCount)
	}
	if sample.GasPrice == nil || sample.GasPrice.Int64() != 1_000_000_000 {
		t.Errorf("expected gas price 1 gwei, got %v", sample.GasPrice)
	}
	if sample.Syncing {
		t.Error("expected not syncing")
	}
	if node.batchCalls.Load() != 1 || node.singleCalls.Load() != 0 {
		t.Errorf("expected one batch call, got batch=%d single=%d",
			node.batchCalls.Load(), node.singleCalls.Load())
	}
}

func TestProbe_ChainIDMismatch(t *testing.T) {
	server := httptest.NewServer(healthyNode("0x89")) // 137
	defer server.Close()

	ep := domain.Endpoint{ID: "ep-1", URL: server.URL, ChainID: 1, Timeout: 2 * time.Second}
	sample := newTestClient().Probe(context.Background(), ep)

	if sample.Online {
		t.Fatal("expected offline sample on chain id mismatch")
	}
	if !strings.Contains(sample.Error, "mismatch") {
		t.Errorf("expected mismatch error, got %q", sample.Error)
	}
	if sample.ErrorKind != domain.ErrorKindConfiguration {
		t.Errorf("expected configuration error kind, got %q", sample.ErrorKind)
	}
	if sample.ChainID != 137 {
		t.Errorf("expected observed chain 137, got %d", sample.ChainID)
	}
}

func TestProbe_FallbackToParallelCalls(t *testing.T) {
	node := healthyNode("0x1")
	node.rejectBatch = true
	delete(node.results, "net_peerCount")
	server := httptest.NewServer(node)
	defer server.Close()

	ep := domain.Endpoint{ID: "ep-1", URL: server.URL, ChainID: 1, Timeout: 2 * time.Second}
	sample := newTestClient().Probe(context.Background(), ep)

	if !sample.Online {
		t.Fatalf("expected online sample, got error %q", sample.Error)
	}
	if sample.PeerCount != 0 {
		t.Errorf("expected missing peer count to default to 0, got %d", sample.PeerCount)
	}
	if node.singleCalls.Load() != 5 {
		t.Errorf("expected 5 single calls, got %d", node.singleCalls.Load())
	}
}

func TestProbe_Timeout(t *testing.T) {
	node := healthyNode("0x1")
	node.delay = time.Second
	server := httptest.NewServer(node)
	defer server.Close()

	ep := domain.Endpoint{ID: "ep-1", URL: server.URL, ChainID: 1, Timeout: 50 * time.Millisecond}

	start := time.Now()
	sample := newTestClient().Probe(context.Background(), ep)
	elapsed := time.Since(start)

	if sample.Online {
		t.Fatal("expected offline sample on timeout")
	}
	if !strings.Contains(sample.Error, "timeout") {
		t.Errorf("expected timeout error, got %q", sample.Error)
	}
	if sample.ErrorKind != domain.ErrorKindConnectivity {
		t.Errorf("expected connectivity error kind, got %q", sample.ErrorKind)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("probe took %v, longer than its timeout allows", elapsed)
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(healthyNode("0x1"))
	url := server.URL
	server.Close()

	sample := newTestClient().Probe(context.Background(), domain.Endpoint{ID: "ep-1", URL: url, ChainID: 1})
	if sample.Online || sample.Error == "" {
		t.Errorf("expected offline sample with error, got %+v", sample)
	}
}

func TestProbe_SyncProgress(t *testing.T) {
	node := healthyNode("0x1")
	node.results["eth_syncing"] = map[string]any{
		"startingBlock": "0x0",
		"currentBlock":  "0x2",
		"highestBlock":  "0x3",
	}
	server := httptest.NewServer(node)
	defer server.Close()

	sample := newTestClient().Probe(context.Background(), domain.Endpoint{ID: "ep-1", URL: server.URL, ChainID: 1})
	if !sample.Syncing || sample.Sync == nil {
		t.Fatal("expected syncing sample")
	}
	if sample.Sync.Progress != 67 {
		t.Errorf("expected progress 67, got %d", sample.Sync.Progress)
	}
}

func TestSyncProgress_ZeroHighest(t *testing.T) {
	if got := domain.SyncProgress(10, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := domain.SyncProgress(50, 100); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(healthyNode("0x1"))
	defer server.Close()

	c := newTestClient()
	if !c.TestConnection(context.Background(), server.URL, 1) {
		t.Error("expected connection test to pass for matching chain")
	}
	if c.TestConnection(context.Background(), server.URL, 137) {
		t.Error("expected connection test to fail for other chain")
	}
	if c.TestConnection(context.Background(), "http://127.0.0.1:1", 1) {
		t.Error("expected connection test to fail for unreachable endpoint")
	}
}
