package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultWSURL is the production WebSocket API endpoint.
const DefaultWSURL = "wss://ws-api.binance.com:443/ws-api/v3"

const defaultMessageTimeout = 10 * time.Second

// WSOrderRequest is a WebSocket API request frame.
type WSOrderRequest struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// WSOrderResponse is a WebSocket API response frame.
type WSOrderResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WSError        `json:"error,omitempty"`
}

// WSError is the error body of a failed request.
type WSError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// WSTransport is a WebSocket API client. Every request carries a unique id
// and waits on its own entry in the pending table; the read loop is the only
// reader and routes responses by id. Responses for ids nobody waits on any
// more are counted as orphaned.
type WSTransport struct {
	config types.WebSocketConfig
	logger *logrus.Entry

	dialMu sync.Mutex // serializes Dial and Close
	mu     sync.Mutex // guards conn, stopCh and writes
	conn   *websocket.Conn
	stopCh chan struct{}

	connected atomic.Bool

	responses map[string]chan *WSOrderResponse
	respMu    sync.Mutex

	metrics     types.WebSocketMetrics
	metricsMu   sync.RWMutex
	connectedAt time.Time
}

func NewWSTransport(config types.WebSocketConfig) *WSTransport {
	if config.URL == "" {
		config.URL = DefaultWSURL
	}
	if config.MessageTimeout <= 0 {
		config.MessageTimeout = defaultMessageTimeout
	}
	return &WSTransport{
		config:    config,
		responses: make(map[string]chan *WSOrderResponse),
		logger: logrus.WithFields(logrus.Fields{
			"exchange":  "binance",
			"transport": "websocket",
		}),
	}
}

// Dial opens a fresh connection, tearing down any previous one first.
func (t *WSTransport) Dial(ctx context.Context) error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()
	t.teardown()

	dialer := *websocket.DefaultDialer
	dialer.EnableCompression = t.config.EnableCompression
	if t.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = t.config.HandshakeTimeout
	}

	conn, _, err := dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	if t.config.MaxMessageSize > 0 {
		conn.SetReadLimit(t.config.MaxMessageSize)
	}

	stop := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.stopCh = stop
	t.connectedAt = time.Now()
	t.mu.Unlock()
	t.connected.Store(true)

	t.updateMetric(func(metrics *types.WebSocketMetrics) {
		metrics.Connected = true
		metrics.ReconnectCount++
	})

	go t.readHandler(conn, stop)
	if t.config.EnableHeartbeat {
		go t.heartbeatHandler(conn, stop)
	}
	return nil
}

// Ping round-trips a ping request.
func (t *WSTransport) Ping(ctx context.Context) error {
	_, err := t.sendRequest(ctx, "ping", nil)
	return err
}

// IsConnected reports whether the read loop is alive.
func (t *WSTransport) IsConnected() bool {
	return t.connected.Load()
}

// Close tears the connection down. The transport can be dialed again.
func (t *WSTransport) Close() error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()
	t.teardown()
	return nil
}

func (t *WSTransport) teardown() {
	t.mu.Lock()
	conn, stop := t.conn, t.stopCh
	t.conn, t.stopCh = nil, nil
	t.mu.Unlock()

	if conn == nil {
		return
	}
	t.connected.Store(false)
	close(stop)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
	t.failPending()

	t.updateMetric(func(metrics *types.WebSocketMetrics) {
		metrics.Connected = false
	})
}

// FetchOrderbook returns the raw depth result for the order book extractor.
func (t *WSTransport) FetchOrderbook(ctx context.Context, symbol string) (any, error) {
	resp, err := t.sendRequest(ctx, "depth", map[string]interface{}{
		"symbol": symbol,
		"limit":  depthLimit,
	})
	if err != nil {
		return nil, err
	}
	return []byte(resp.Result), nil
}

type wsOrderResult struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
}

// SubmitLimitOrder places a GTC limit order through order.place.
func (t *WSTransport) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error) {
	params := map[string]interface{}{
		"symbol":      req.Symbol,
		"side":        string(ConvertSide(req.Side)),
		"type":        types.OrderTypeLimit,
		"timeInForce": types.TimeInForceGTC,
		"price":       req.Price,
		"quantity":    req.Quantity,
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	resp, err := t.sendRequest(ctx, "order.place", t.sign(params))
	if err != nil {
		logPrecision(t.logger, err, req)
		return "", err
	}

	var result wsOrderResult
	if err := decodeResult(resp.Result, &result); err != nil || result.OrderID == "" {
		return "", &types.MalformedResponseError{Venue: venueName, Shape: "order.place result without orderId"}
	}
	return result.OrderID.String(), nil
}

// CancelOrder cancels by numeric order id, or by client order id otherwise.
func (t *WSTransport) CancelOrder(ctx context.Context, symbol, id string) error {
	params := map[string]interface{}{"symbol": symbol}
	if orderID, err := strconv.ParseInt(id, 10, 64); err == nil {
		params["orderId"] = orderID
	} else {
		params["origClientOrderId"] = id
	}
	_, err := t.sendRequest(ctx, "order.cancel", t.sign(params))
	return err
}

// CancelAll cancels every open order on symbol. Binance answers -2011 when
// there is nothing to cancel, which is success here.
func (t *WSTransport) CancelAll(ctx context.Context, symbol string) error {
	_, err := t.sendRequest(ctx, "openOrders.cancelAll", t.sign(map[string]interface{}{"symbol": symbol}))
	if errors.Is(err, types.ErrOrderNotFound) {
		return nil
	}
	return err
}

type wsOpenOrder struct {
	OrderID json.Number `json:"orderId"`
	Symbol  string      `json:"symbol"`
	Side    string      `json:"side"`
	Price   string      `json:"price"`
	OrigQty string      `json:"origQty"`
	Status  string      `json:"status"`
	Time    int64       `json:"time"`
}

// OpenOrders lists the account's open orders on symbol.
func (t *WSTransport) OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error) {
	resp, err := t.sendRequest(ctx, "openOrders.status", t.sign(map[string]interface{}{"symbol": symbol}))
	if err != nil {
		return nil, err
	}

	var raw []wsOpenOrder
	if err := decodeResult(resp.Result, &raw); err != nil {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "openOrders.status result is not a list"}
	}

	orders := make([]types.VenueOrder, 0, len(raw))
	for _, o := range raw {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQty)
		orders = append(orders, types.VenueOrder{
			ID:        o.OrderID.String(),
			Symbol:    o.Symbol,
			Side:      o.Side,
			Price:     price,
			Quantity:  qty,
			Status:    o.Status,
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return orders, nil
}

// Metrics returns a copy of the transport counters.
func (t *WSTransport) Metrics() types.WebSocketMetrics {
	t.metricsMu.RLock()
	metrics := t.metrics
	t.metricsMu.RUnlock()

	t.respMu.Lock()
	metrics.PendingRequests = len(t.responses)
	t.respMu.Unlock()

	if t.connected.Load() {
		t.mu.Lock()
		metrics.ConnectionUptime = time.Since(t.connectedAt)
		t.mu.Unlock()
	}
	return metrics
}

func decodeResult(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// sign adds apiKey, timestamp and the HMAC signature to params.
func (t *WSTransport) sign(params map[string]interface{}) map[string]interface{} {
	params["apiKey"] = t.config.APIKey
	params["timestamp"] = time.Now().UnixMilli()
	params["signature"] = t.generateSignature(params)
	return params
}

// generateSignature signs the sorted k=v query string with HMAC-SHA256.
func (t *WSTransport) generateSignature(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}

	h := hmac.New(sha256.New, []byte(t.config.SecretKey))
	h.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(h.Sum(nil))
}

// sendRequest writes a request and waits for the matching response, the
// caller's context or the message timeout, whichever comes first.
func (t *WSTransport) sendRequest(ctx context.Context, method string, params map[string]interface{}) (*WSOrderResponse, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("%s: %w", method, types.ErrConnectionClosed)
	}

	requestID := uuid.NewString()
	request := WSOrderRequest{ID: requestID, Method: method, Params: params}

	respChan := make(chan *WSOrderResponse, 1)
	t.respMu.Lock()
	t.responses[requestID] = respChan
	t.respMu.Unlock()

	defer func() {
		t.respMu.Lock()
		delete(t.responses, requestID)
		t.respMu.Unlock()
	}()

	t.mu.Lock()
	conn := t.conn
	var err error
	if conn == nil {
		err = types.ErrConnectionClosed
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(t.config.MessageTimeout))
		err = conn.WriteJSON(request)
	}
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	t.updateMetric(func(metrics *types.WebSocketMetrics) {
		metrics.MessagesSent++
	})

	timer := time.NewTimer(t.config.MessageTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, fmt.Errorf("%s: %w", method, types.ErrConnectionClosed)
		}
		if resp.Error != nil {
			return nil, rejection(venueName, int64(resp.Error.Code), resp.Error.Msg)
		}
		if resp.Status != 0 && resp.Status != 200 {
			return nil, rejection(venueName, int64(resp.Status), fmt.Sprintf("status %d", resp.Status))
		}
		return resp, nil
	case <-ctx.Done():
		t.countTimeout()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, requestID, types.ErrTimeout)
		}
		return nil, ctx.Err()
	case <-timer.C:
		t.countTimeout()
		return nil, fmt.Errorf("%s %s: %w", method, requestID, types.ErrTimeout)
	}
}

func (t *WSTransport) countTimeout() {
	t.updateMetric(func(metrics *types.WebSocketMetrics) {
		metrics.TimedOut++
	})
}

// readHandler routes responses by id until the connection fails or stop closes.
func (t *WSTransport) readHandler(conn *websocket.Conn, stop chan struct{}) {
	for {
		var resp WSOrderResponse
		if err := conn.ReadJSON(&resp); err != nil {
			select {
			case <-stop:
			default:
				t.logger.WithError(err).Warn("WebSocket read failed")
				t.handleDisconnect(conn)
			}
			return
		}

		t.updateMetric(func(metrics *types.WebSocketMetrics) {
			metrics.MessagesReceived++
		})

		if resp.ID == "" {
			continue
		}
		t.respMu.Lock()
		ch, ok := t.responses[resp.ID]
		t.respMu.Unlock()
		if !ok {
			t.updateMetric(func(metrics *types.WebSocketMetrics) {
				metrics.Orphaned++
			})
			t.logger.WithField("request_id", resp.ID).Debug("Response for abandoned request")
			continue
		}
		select {
		case ch <- &resp:
		default:
		}
	}
}

// heartbeatHandler sends control pings so idle connections stay open.
func (t *WSTransport) heartbeatHandler(conn *websocket.Conn, stop chan struct{}) {
	interval := t.config.PingInterval
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
			t.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.mu.Unlock()
			if err != nil {
				t.logger.WithError(err).Debug("Heartbeat ping failed")
				return
			}
		}
	}
}

// handleDisconnect marks the connection dead if conn is still the current one.
// Reconnecting is left to the supervisor.
func (t *WSTransport) handleDisconnect(conn *websocket.Conn) {
	t.mu.Lock()
	current := t.conn == conn
	t.mu.Unlock()
	if !current {
		return
	}
	t.connected.Store(false)
	t.failPending()
	t.updateMetric(func(metrics *types.WebSocketMetrics) {
		metrics.Connected = false
	})
}

// failPending wakes every waiter with a nil response.
func (t *WSTransport) failPending() {
	t.respMu.Lock()
	defer t.respMu.Unlock()
	for _, ch := range t.responses {
		select {
		case ch <- nil:
		default:
		}
	}
}

func (t *WSTransport) updateMetric(update func(*types.WebSocketMetrics)) {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()
	update(&t.metrics)
}
