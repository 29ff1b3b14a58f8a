package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
)

// maxResponseBytes bounds how much of a remote body is read.
const maxResponseBytes = 32 << 20

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client forwards canonical requests to a remote JSON-RPC endpoint over HTTP
// POST. It performs exactly one round trip per call: retries are left to the
// caller.
type Client struct {
	endpoint string
	label    string
	hc       httpDoer
	logger   *zap.Logger
}

// NewClient constructs a client for endpoint using hc (a default client with a
// 30s timeout when nil).
func NewClient(endpoint string, hc *http.Client, log *zap.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: endpoint,
		label:    u.Host,
		hc:       hc,
		logger:   logger.Or(log).With(zap.String("component", "remote_rpc"), zap.String("endpoint", u.Host)),
	}, nil
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call posts req and returns the parsed response. An empty body, a body that
// is not JSON, or a non-2xx status without a JSON-RPC error yields a
// KindRemoteProtocol error; an error member in the body is returned as a
// KindRemote error carrying the remote code, message and data, which still
// matches ErrRemoteProtocol.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = Version
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, InvalidInput("encode request %s: %v", req.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		c.logger.Debug("remote call failed", zap.String("method", req.Method), zap.Error(err))
		return nil, fmt.Errorf("post %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Method, err)
	}

	c.logger.Debug("remote call",
		zap.String("method", req.Method),
		zap.Int64("id", req.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, RemoteProtocol("empty response from %s for %s (http %d)", c.label, req.Method, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(trimmed, &out); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, RemoteProtocol("http %d from %s: %s", resp.StatusCode, c.label, truncate(trimmed, 256))
		}
		return nil, RemoteProtocol("malformed response from %s for %s: %v", c.label, req.Method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if resp.StatusCode/100 != 2 {
		return nil, RemoteProtocol("http %d from %s: %s", resp.StatusCode, c.label, truncate(trimmed, 256))
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
