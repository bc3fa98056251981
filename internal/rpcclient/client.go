// Package rpcclient provides a JSON-RPC 1.0 client for bitcoind.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrConnectionFailed is returned when the node cannot be reached or
	// answers with a non-JSON HTTP error.
	ErrConnectionFailed = errors.New("rpcclient: connection failed")
	// ErrInvalidResponse is returned when the reply cannot be decoded.
	ErrInvalidResponse = errors.New("rpcclient: invalid response")
)

// Config holds client settings.
type Config struct {
	URL      string
	User     string
	Password string
	// Timeout bounds a single HTTP round trip. Zero means 30s.
	Timeout time.Duration
	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64
}

// Client is a JSON-RPC 1.0 HTTP client with basic auth.
type Client struct {
	url     string
	user    string
	pass    string
	http    *http.Client
	limiter *rate.Limiter
	nextID  atomic.Int64
}

// New creates a new RPC client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		url:  cfg.URL,
		user: cfg.User,
		pass: cfg.Password,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
	}
}

// URL returns the endpoint the client talks to.
func (c *Client) URL() string { return c.url }

// request is a JSON-RPC 1.0 request.
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// response is a JSON-RPC 1.0 response.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the
// provided pointer. If result is nil, the response result is discarded.
//
// bitcoind reports RPC failures with HTTP 500 and a JSON body, so a
// non-2xx status is only a connection failure when the body carries no
// RPC error.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpcclient: %s: %w", method, err)
	}
	if params == nil {
		params = []interface{}{}
	}
	req := request{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpcclient: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		httpReq.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrConnectionFailed, err)
	}

	var rpcResp response
	decodeErr := json.Unmarshal(data, &rpcResp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && rpcResp.Error != nil {
			return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
		}
		snippet := data
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, decodeErr)
	}
	if rpcResp.ID != req.ID {
		return fmt.Errorf("%w: response id %d, want %d", ErrInvalidResponse, rpcResp.ID, req.ID)
	}
	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: decode result: %w", ErrInvalidResponse, err)
		}
	}
	return nil
}
