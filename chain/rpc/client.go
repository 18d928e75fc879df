// Package rpc implements chain.Client over JSON-RPC 2.0: HTTP for requests,
// WebSocket for the market-data feed.
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/types"
)

// Default client tuning, overridden by Options.
const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Options configures the HTTP client.
type Options struct {
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	BurstSize         int

	// BackupEndpoints are tried in rotation after a transport failure on
	// the active endpoint.
	BackupEndpoints []string

	// Confirmations is the confirmation count required before a signature
	// reports as confirmed. Zero or one accepts the first confirmation.
	Confirmations uint64
}

// Client implements chain.Client using HTTP JSON-RPC 2.0 plus a WebSocket
// feed for subscriptions.
type Client struct {
	endpoints  []string
	active     atomic.Uint32
	wsEndpoint string
	http       *http.Client
	limiter    *rate.Limiter
	opts       Options
	requestID  atomic.Uint64
	logger     *zap.Logger
}

// NewClient creates a JSON-RPC client for the given endpoints.
func NewClient(endpoint, wsEndpoint string, opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = opts.BurstSize
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		endpoints:  append([]string{endpoint}, opts.BackupEndpoints...),
		wsEndpoint: wsEndpoint,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		opts:       opts,
		logger:     logger,
	}
}

func (c *Client) currentEndpoint() string {
	return c.endpoints[int(c.active.Load())%len(c.endpoints)]
}

// failover rotates to the next endpoint after a transport failure. A no-op
// without backup nodes.
func (c *Client) failover() {
	if len(c.endpoints) < 2 {
		return
	}
	next := c.active.Add(1)
	c.logger.Warn("rpc endpoint failover",
		zap.String("endpoint", c.endpoints[int(next)%len(c.endpoints)]))
}

var _ chain.Client = (*Client)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC request with rate limiting, retries and
// exponential backoff.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.opts.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.opts.MaxBackoff {
				delay = c.opts.MaxBackoff
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.doOnce(ctx, body, result)
		if lastErr == nil {
			return nil
		}
		// RPC-level errors are definitive; only transport failures retry,
		// rotating through the backup nodes.
		var re *rpcError
		if ok := asRPCError(lastErr, &re); ok {
			return lastErr
		}
		c.failover()
		c.logger.Warn("rpc call failed, retrying",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return fmt.Errorf("%s: %w", method, lastErr)
}

func asRPCError(err error, target **rpcError) bool {
	for err != nil {
		if re, ok := err.(*rpcError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *Client) doOnce(ctx context.Context, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.currentEndpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("call rejected: %w", rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// SubmitTransaction broadcasts a signed bundle and returns its signature.
func (c *Client) SubmitTransaction(ctx context.Context, signed []byte) (string, error) {
	var signature string
	encoded := base64.StdEncoding.EncodeToString(signed)
	if err := c.call(ctx, "sendTransaction", []any{encoded, map[string]any{"encoding": "base64"}}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatus struct {
	Slot          uint64          `json:"slot"`
	Confirmations *uint64         `json:"confirmations"`
	Err           json.RawMessage `json:"err"`
	Status        string          `json:"confirmationStatus"`
}

type signatureStatusResult struct {
	Value []*signatureStatus `json:"value"`
}

// TransactionStatus resolves the fate of a signature.
func (c *Client) TransactionStatus(ctx context.Context, signature string) (chain.StatusInfo, error) {
	var res signatureStatusResult
	params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return chain.StatusInfo{}, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return chain.StatusInfo{Status: chain.StatusNotFound}, nil
	}

	st := res.Value[0]
	info := chain.StatusInfo{Slot: st.Slot}
	switch {
	case len(st.Err) > 0 && string(st.Err) != "null":
		info.Status = chain.StatusFailed
		info.Err = string(st.Err)
	case st.Status == "finalized":
		info.Status = chain.StatusConfirmed
	case st.Status == "confirmed" && c.confirmed(st.Confirmations):
		info.Status = chain.StatusConfirmed
	default:
		info.Status = chain.StatusPending
	}
	return info, nil
}

// confirmed applies the configured confirmation count. A nil count means the
// signature is rooted and always passes.
func (c *Client) confirmed(count *uint64) bool {
	if c.opts.Confirmations <= 1 || count == nil {
		return true
	}
	return *count >= c.opts.Confirmations
}

type accountInfoResult struct {
	Value *struct {
		Data []string `json:"data"`
	} `json:"value"`
}

// GetAccountState reads raw account data.
func (c *Client) GetAccountState(ctx context.Context, addr types.Address) ([]byte, error) {
	var res accountInfoResult
	params := []any{addr.String(), map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil || len(res.Value.Data) == 0 {
		return nil, fmt.Errorf("account %s not found", addr)
	}
	raw, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return raw, nil
}

// SubscribeMarketData opens the WebSocket feed for the given markets.
func (c *Client) SubscribeMarketData(ctx context.Context, markets []types.Address) (<-chan *types.MarketSnapshot, error) {
	feed, err := newWSFeed(ctx, c.wsEndpoint, markets, c.logger)
	if err != nil {
		return nil, err
	}
	return feed.updates, nil
}
