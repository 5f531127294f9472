package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

var (
	// ErrRateLimited is returned when the endpoint answers 429 or a throttle message.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlocked is returned when the endpoint answers 403.
	ErrBlocked = errors.New("ip blocked")

	// ErrBatchUnsupported is returned when the endpoint does not answer a batch with an array.
	ErrBatchUnsupported = errors.New("batch requests not supported")
)

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// Error is a JSON-RPC error object returned by the endpoint.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// BatchRequest represents a single request in a batch call.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse represents a single response from a batch call.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Client makes JSON-RPC 2.0 calls over HTTP against a single endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for endpoint. A nil httpClient gets a default one.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// NewHTTPClient returns an http.Client with pooled connections suited to probing
// many endpoints.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Endpoint returns the URL this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call makes a single JSON-RPC call and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	body, err := c.post(ctx, request{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if resp.Error != nil {
		if detectThrottle(resp.Error.Message) {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, resp.Error.Message)
		}
		return nil, resp.Error
	}

	return resp.Result, nil
}

// BatchCall makes multiple calls in one request. Responses are returned in request order.
func (c *Client) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	batch := make([]request, len(requests))
	for i, r := range requests {
		params := r.Params
		if params == nil {
			params = []any{}
		}
		batch[i] = request{JSONRPC: "2.0", Method: r.Method, Params: params, ID: i + 1}
	}

	body, err := c.post(ctx, batch)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %s", ErrBatchUnsupported, truncate(string(trimmed), 200))
	}

	var raw []response
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}
	if len(raw) != len(requests) {
		return nil, fmt.Errorf("%w: expected %d responses, got %d",
			ErrBatchUnsupported, len(requests), len(raw))
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].ID < raw[j].ID })

	responses := make([]BatchResponse, len(requests))
	for _, r := range raw {
		idx := r.ID - 1
		if idx < 0 || idx >= len(responses) {
			return nil, fmt.Errorf("%w: unexpected response id %d", ErrBatchUnsupported, r.ID)
		}
		if r.Error != nil {
			responses[idx] = BatchResponse{Error: r.Error}
			continue
		}
		responses[idx] = BatchResponse{Result: r.Result}
	}

	return responses, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) post(ctx context.Context, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (429), retry after: %s", ErrRateLimited, resp.Header.Get("Retry-After"))
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w (403)", ErrBlocked)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if detectThrottle(string(body)) {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, truncate(string(body), 200))
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func detectThrottle(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
