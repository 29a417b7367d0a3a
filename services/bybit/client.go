// Package bybit implements a signed Bybit v5 REST client and the probe
// transport built on it.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Hosts
	BaseURL        = "https://api.bybit.com"
	BaseURLTestnet = "https://api-testnet.bybit.com"

	// Prefix of every endpoint path
	APIVersion = "v5"

	recvWindow = "5000"
)

// Config configures the REST client.
type Config struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	BaseURL   string // overrides Testnet when set
	Timeout   time.Duration

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client is a signed, rate limited Bybit v5 REST client.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// NewClient picks the mainnet or testnet host unless BaseURL is set.
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
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.SecretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logrus.WithField("exchange", "bybit"),
	}
}

// Request calls a signed endpoint and decodes the result field into result.
func (c *Client) Request(ctx context.Context, method, endpoint string, params map[string]interface{}, result interface{}) error {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var queryString string
	var body []byte
	var err error

	if method == http.MethodGet || method == http.MethodDelete {
		queryString = c.buildQueryString(params)
	} else if params != nil {
		body, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req, err := c.newRequest(ctx, method, endpoint, queryString, body)
	if err != nil {
		return err
	}

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	signPayload := timestamp + c.apiKey + recvWindow + queryString
	if body != nil {
		signPayload = timestamp + c.apiKey + recvWindow + string(body)
	}
	req.Header.Set("X-BAPI-SIGN", c.sign(signPayload))

	return c.do(req, result)
}

// PublicRequest calls an unsigned market endpoint.
func (c *Client) PublicRequest(ctx context.Context, method, endpoint string, params map[string]interface{}, result interface{}) error {
	req, err := c.newRequest(ctx, method, endpoint, c.buildQueryString(params), nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, queryString string, body []byte) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.baseURL + "/" + APIVersion + endpoint
	if queryString != "" {
		fullURL += "?" + queryString
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes req and decodes the envelope. A non-zero retCode becomes a
// *types.RejectedError.
func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var baseResp BaseResponse
	if err := json.Unmarshal(respBody, &baseResp); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if baseResp.RetCode != 0 {
		return rejection(baseResp.RetCode, baseResp.RetMsg)
	}

	if result == nil || len(baseResp.Result) == 0 {
		return nil
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], baseResp.Result...)
		return nil
	}
	if err := json.Unmarshal(baseResp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// sign returns hex(HMAC-SHA256(secret, payload)).
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// buildQueryString encodes params with sorted keys, matching the signed payload.
func (c *Client) buildQueryString(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch val := params[k].(type) {
		case string:
			if val != "" {
				values.Add(k, val)
			}
		case int:
			values.Add(k, strconv.Itoa(val))
		case int64:
			values.Add(k, strconv.FormatInt(val, 10))
		case float64:
			values.Add(k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			values.Add(k, strconv.FormatBool(val))
		default:
			if jsonBytes, err := json.Marshal(val); err == nil {
				values.Add(k, string(jsonBytes))
			}
		}
	}

	return values.Encode()
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
