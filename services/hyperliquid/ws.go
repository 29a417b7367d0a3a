package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/pkg/types"
)

const (
	DefaultWSURL        = "wss://api.hyperliquid.xyz/ws"
	DefaultWSURLTestnet = "wss://api.hyperliquid-testnet.xyz/ws"

	defaultMessageTimeout = 10 * time.Second
)

type wsPostRequest struct {
	Method  string        `json:"method"`
	ID      uint64        `json:"id,omitempty"`
	Request *wsPostFields `json:"request,omitempty"`
}

type wsPostFields struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsPostResponse struct {
	ID       uint64 `json:"id"`
	Response struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	} `json:"response"`
}

// WSClient sends info queries and signed actions over the WebSocket post
// channel. Each post carries a numeric id and waits on its own entry in the
// pending table; the read loop routes answers by id.
type WSClient struct {
	config types.WebSocketConfig
	logger *logrus.Entry

	dialMu sync.Mutex // serializes Dial and Close
	mu     sync.Mutex // guards conn, stop and writes
	conn   *websocket.Conn
	stop   chan struct{}

	connected atomic.Bool
	nextID    atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan *wsPostResponse
	pongs     chan struct{}
}

func NewWSClient(config types.WebSocketConfig) *WSClient {
	if config.URL == "" {
		config.URL = DefaultWSURL
	}
	if config.MessageTimeout <= 0 {
		config.MessageTimeout = defaultMessageTimeout
	}
	return &WSClient{
		config:  config,
		pending: make(map[uint64]chan *wsPostResponse),
		pongs:   make(chan struct{}, 1),
		logger:  logrus.WithFields(logrus.Fields{"exchange": venueName, "transport": "websocket"}),
	}
}

// Dial opens a fresh connection, tearing down any previous one first.
func (c *WSClient) Dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.teardown()

	dialer := *websocket.DefaultDialer
	dialer.EnableCompression = c.config.EnableCompression
	if c.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = c.config.HandshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn, stop)
	if c.config.EnableHeartbeat {
		go c.heartbeat(stop)
	}
	return nil
}

// Ping sends an application ping and waits for the pong.
func (c *WSClient) Ping(ctx context.Context) error {
	select {
	case <-c.pongs:
	default:
	}
	if err := c.write(wsPostRequest{Method: "ping"}); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	timer := time.NewTimer(c.config.MessageTimeout)
	defer timer.Stop()
	select {
	case <-c.pongs:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ping: %w", types.ErrTimeout)
	case <-timer.C:
		return fmt.Errorf("ping: %w", types.ErrTimeout)
	}
}

// IsConnected reports whether the read loop is alive.
func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *WSClient) Close() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.teardown()
	return nil
}

// Info posts an info query and returns the payload's data field.
func (c *WSClient) Info(ctx context.Context, req any) (json.RawMessage, error) {
	payload, err := c.post(ctx, "info", req)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil || len(wrapped.Data) == 0 {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "info payload without data"}
	}
	return wrapped.Data, nil
}

// Exchange posts a signed action and returns the exchange envelope.
func (c *WSClient) Exchange(ctx context.Context, req *ExchangeRequest) (json.RawMessage, error) {
	return c.post(ctx, "action", req)
}

func (c *WSClient) post(ctx context.Context, kind string, payload any) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("post %s: %w", kind, types.ErrConnectionClosed)
	}

	id := c.nextID.Add(1)
	ch := make(chan *wsPostResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(wsPostRequest{Method: "post", ID: id, Request: &wsPostFields{Type: kind, Payload: payload}}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", kind, err)
	}

	timer := time.NewTimer(c.config.MessageTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("post %s: %w", kind, types.ErrConnectionClosed)
		}
		if resp.Response.Type == "error" {
			var msg string
			if err := json.Unmarshal(resp.Response.Payload, &msg); err != nil {
				msg = string(resp.Response.Payload)
			}
			return nil, rejection(msg)
		}
		return resp.Response.Payload, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("post %s %d: %w", kind, id, types.ErrTimeout)
		}
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("post %s %d: %w", kind, id, types.ErrTimeout)
	}
}

func (c *WSClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return types.ErrConnectionClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.MessageTimeout))
	return c.conn.WriteJSON(v)
}

// readLoop routes post answers by id and pongs to Ping until the connection
// fails or stop closes.
func (c *WSClient) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-stop:
			default:
				c.logger.WithError(err).Warn("WebSocket read failed")
				c.handleDisconnect(conn)
			}
			return
		}

		switch frame.Channel {
		case "pong":
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		case "post":
			var resp wsPostResponse
			if err := json.Unmarshal(frame.Data, &resp); err != nil {
				c.logger.WithError(err).Debug("Undecodable post response")
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if !ok {
				c.logger.WithField("request_id", resp.ID).Debug("Response for abandoned request")
				continue
			}
			select {
			case ch <- &resp:
			default:
			}
		}
	}
}

// heartbeat keeps an idle connection open; the server drops connections
// that stay silent for a minute.
func (c *WSClient) heartbeat(stop chan struct{}) {
	interval := c.config.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(wsPostRequest{Method: "ping"}); err != nil {
				c.logger.WithError(err).Debug("Heartbeat ping failed")
				return
			}
		}
	}
}

func (c *WSClient) teardown() {
	c.mu.Lock()
	conn, stop := c.conn, c.stop
	c.conn, c.stop = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.connected.Store(false)
	close(stop)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
	c.failPending()
}

// handleDisconnect marks the connection dead if conn is still the current
// one. Reconnecting is left to the supervisor.
func (c *WSClient) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()
	if !current {
		return
	}
	c.connected.Store(false)
	c.failPending()
}

func (c *WSClient) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
	}
}

// WSTransport is the probe transport over a WebSocket connection.
type WSTransport struct {
	*Transport
	client *WSClient
}

func NewWSTransport(client *WSClient, signer *Signer, user string) *WSTransport {
	return &WSTransport{Transport: NewTransport(client, signer, user), client: client}
}

func (t *WSTransport) Dial(ctx context.Context) error { return t.client.Dial(ctx) }
func (t *WSTransport) Ping(ctx context.Context) error { return t.client.Ping(ctx) }
func (t *WSTransport) IsConnected() bool              { return t.client.IsConnected() }
