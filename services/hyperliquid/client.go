// Package hyperliquid implements the Hyperliquid info and exchange APIs over
// REST and over the WebSocket post channel, and the probe transport built on
// either of them.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Hosts
	BaseURL        = "https://api.hyperliquid.xyz"
	BaseURLTestnet = "https://api.hyperliquid-testnet.xyz"
)

// Config configures the REST client.
type Config struct {
	Testnet bool
	BaseURL string // overrides Testnet when set
	Timeout time.Duration

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client is a rate limited REST client for /info and /exchange.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

func NewClient(cfg Config) *Client {
	baseURL := BaseURL
	if cfg.Testnet {
		baseURL = BaseURLTestnet
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logrus.WithFields(logrus.Fields{"exchange": venueName, "transport": "rest"}),
	}
}

// Info posts an info query and returns the raw answer.
func (c *Client) Info(ctx context.Context, req any) (json.RawMessage, error) {
	return c.post(ctx, "/info", req)
}

// Exchange posts a signed action and returns the raw envelope.
func (c *Client) Exchange(ctx context.Context, req *ExchangeRequest) (json.RawMessage, error) {
	return c.post(ctx, "/exchange", req)
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Close releases pooled connections.
func (c *Client) Close() error {
	c.CloseIdleConnections()
	return nil
}
