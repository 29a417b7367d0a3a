package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Path   string
	Params url.Values
	APIKey string
}

// restAPIServer answers Binance REST paths from a route table.
type restAPIServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []recordedCall
	routes map[string]func(w http.ResponseWriter, params url.Values)
}

func newRESTAPIServer(t *testing.T) *restAPIServer {
	s := &restAPIServer{routes: map[string]func(http.ResponseWriter, url.Values){}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		if form, err := url.ParseQuery(string(body)); err == nil {
			for k, v := range form {
				params[k] = v
			}
		}

		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls = append(s.calls, recordedCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Params: params,
			APIKey: r.Header.Get("X-MBX-APIKEY"),
		})
		route, ok := s.routes[key]
		s.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":-1,"msg":"no route ` + key + `"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		route(w, params)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *restAPIServer) route(key string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[key] = func(w http.ResponseWriter, _ url.Values) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (s *restAPIServer) last() recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *restAPIServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestREST(s *restAPIServer, mode types.AccountMode) *RESTTransport {
	return NewRESTTransport(RESTConfig{
		APIKey:      "test-api-key",
		SecretKey:   "test-secret-key",
		BaseURL:     s.srv.URL,
		AccountMode: mode,
	})
}

const depthBody = `{"lastUpdateId":1027024,"bids":[["60000.00","1.5"],["59990.00","2"]],"asks":[["60010.00","1"],["60020.00","3"]]}`

func TestRESTTransport_FetchOrderbook(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("GET /api/v3/depth", http.StatusOK, depthBody)
	transport := newTestREST(s, types.AccountModeSpot)

	payload, err := transport.FetchOrderbook(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	book, ok := payload.(*types.Orderbook)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 2)
	mid, ok := book.Mid()
	require.True(t, ok)
	assert.Equal(t, "60005", mid.String())

	call := s.last()
	assert.Equal(t, "BTCUSDT", call.Params.Get("symbol"))
	assert.Equal(t, "5", call.Params.Get("limit"))
}

func TestRESTTransport_SubmitLimitOrder(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("POST /api/v3/order", http.StatusOK,
		`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"probe-1","transactTime":1507725176595,"price":"57004.80","origQty":"0.00010000","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`)
	transport := newTestREST(s, types.AccountModeSpot)

	id, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Price:         "57004.80",
		Quantity:      "0.0001",
		ClientOrderID: "probe-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "28", id)

	call := s.last()
	assert.Equal(t, "test-api-key", call.APIKey)
	assert.Equal(t, "LIMIT", call.Params.Get("type"))
	assert.Equal(t, "GTC", call.Params.Get("timeInForce"))
	assert.Equal(t, "BUY", call.Params.Get("side"))
	assert.Equal(t, "57004.80", call.Params.Get("price"))
	assert.Equal(t, "0.0001", call.Params.Get("quantity"))
	assert.Equal(t, "probe-1", call.Params.Get("newClientOrderId"))
	assert.NotEmpty(t, call.Params.Get("signature"))
}

func TestRESTTransport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason types.RejectReason
	}{
		{"precision", `{"code":-1111,"msg":"Precision is over the maximum defined for this asset."}`, types.RejectPrecision},
		{"insufficient", `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, types.RejectInsufficientFunds},
		{"filter", `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, types.RejectFilter},
		{"other", `{"code":-1100,"msg":"Illegal characters found in parameter."}`, types.RejectOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newRESTAPIServer(t)
			s.route("POST /api/v3/order", http.StatusBadRequest, tt.body)
			transport := newTestREST(s, types.AccountModeSpot)

			_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
				Symbol: "BTCUSDT", Side: types.OrderSideBuy, Price: "1.00", Quantity: "1",
			})
			var rejected *types.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.reason, rejected.Reason)
			assert.Equal(t, types.ClassVenueRejected, types.Classify(err))
		})
	}
}

func TestRESTTransport_CancelOrder(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("DELETE /api/v3/order", http.StatusOK,
		`{"symbol":"BTCUSDT","origClientOrderId":"probe-1","orderId":28,"clientOrderId":"cancel-1","price":"57004.80","origQty":"0.0001","executedQty":"0","status":"CANCELED","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`)
	transport := newTestREST(s, types.AccountModeSpot)

	require.NoError(t, transport.CancelOrder(context.Background(), "BTCUSDT", "28"))
	assert.Equal(t, "28", s.last().Params.Get("orderId"))

	require.NoError(t, transport.CancelOrder(context.Background(), "BTCUSDT", "probe-1"))
	assert.Equal(t, "probe-1", s.last().Params.Get("origClientOrderId"))
	assert.Empty(t, s.last().Params.Get("orderId"))
}

func TestRESTTransport_CancelUnknownOrder(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("DELETE /api/v3/order", http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`)
	transport := newTestREST(s, types.AccountModeSpot)

	err := transport.CancelOrder(context.Background(), "BTCUSDT", "28")
	assert.True(t, errors.Is(err, types.ErrOrderNotFound))
}

func TestRESTTransport_CancelAllAndOpenOrders(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("DELETE /api/v3/openOrders", http.StatusOK, `[]`)
	s.route("GET /api/v3/openOrders", http.StatusOK,
		`[{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"probe-7","price":"57004.80","origQty":"0.00010000","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY","time":1700000000000,"updateTime":1700000000000,"isWorking":true}]`)
	transport := newTestREST(s, types.AccountModeSpot)

	require.NoError(t, transport.CancelAll(context.Background(), "BTCUSDT"))
	assert.Equal(t, "/api/v3/openOrders", s.last().Path)
	assert.Equal(t, http.MethodDelete, s.last().Method)

	orders, err := transport.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "7", orders[0].ID)
	assert.Equal(t, "BUY", orders[0].Side)
	assert.True(t, orders[0].Price.Equal(decimal.RequireFromString("57004.8")))
	assert.True(t, orders[0].Quantity.Equal(decimal.RequireFromString("0.0001")))
	assert.Equal(t, int64(1700000000000), orders[0].CreatedAt.UnixMilli())
}

func TestRESTTransport_MarginMode(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("POST /sapi/v1/margin/order", http.StatusOK,
		`{"symbol":"BTCUSDT","orderId":99,"clientOrderId":"probe-9","transactTime":1507725176595,"price":"57004.80","origQty":"0.0001","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`)
	s.route("GET /sapi/v1/margin/openOrders", http.StatusOK, `[]`)
	transport := newTestREST(s, types.AccountModeMargin)

	id, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy, Price: "57004.80", Quantity: "0.0001",
	})
	require.NoError(t, err)
	assert.Equal(t, "99", id)

	assert.ErrorIs(t, transport.CancelAll(context.Background(), "BTCUSDT"), types.ErrUnsupported)

	orders, err := transport.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, "/sapi/v1/margin/openOrders", s.last().Path)
}

func TestRESTTransport_FallbackPrice(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("GET /api/v3/ticker/price", http.StatusOK, `[{"symbol":"BTCUSDT","price":"500.00"}]`)
	transport := newTestREST(s, types.AccountModeSpot)

	price, err := transport.FallbackPrice("BTCUSDT")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "500", price.String())
}

func TestRESTTransport_RateLimit(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("GET /api/v3/depth", http.StatusOK, depthBody)
	transport := NewRESTTransport(RESTConfig{
		BaseURL:           s.srv.URL,
		RequestsPerSecond: 10,
		Burst:             1,
	})

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := transport.FetchOrderbook(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 4, s.count())
}

func TestRESTTransport_TransportErrorPassesThrough(t *testing.T) {
	s := newRESTAPIServer(t)
	transport := newTestREST(s, types.AccountModeSpot)
	s.srv.Close()

	_, err := transport.FetchOrderbook(context.Background(), "BTCUSDT")
	require.Error(t, err)
	var rejected *types.RejectedError
	assert.False(t, errors.As(err, &rejected))
	assert.Equal(t, types.ClassConnectionClosed, types.Classify(err))
}

func TestRESTTransport_ProbeRoundTrip(t *testing.T) {
	s := newRESTAPIServer(t)
	s.route("GET /api/v3/depth", http.StatusOK, depthBody)
	s.route("POST /api/v3/order", http.StatusOK,
		`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"probe-1","transactTime":1507725176595,"price":"57004.80","origQty":"0.0001","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`)
	s.route("DELETE /api/v3/order", http.StatusOK,
		`{"symbol":"BTCUSDT","orderId":28,"status":"CANCELED"}`)
	s.route("DELETE /api/v3/openOrders", http.StatusOK, `[]`)
	transport := newTestREST(s, types.AccountModeSpot)

	cfg := venue.DefaultProberConfig(string(types.VenueBinanceREST), "BTCUSDT")
	cfg.Precision.Tick = venue.TieredTick{
		Threshold: decimal.NewFromInt(1000),
		High:      decimal.RequireFromString("0.10"),
		Low:       decimal.RequireFromString("0.01"),
	}
	adapter := venue.NewRestAdapter(venue.NewProber(cfg, transport))

	require.NoError(t, adapter.ProbeMarketData(context.Background()))
	require.NoError(t, adapter.PlaceProbeOrder(context.Background()))

	assert.Equal(t, 0, adapter.Ledger().Len())
	assert.Equal(t, int64(0), adapter.Stats().Counters(types.OpPlaceOrder).Failures)
	success, _ := adapter.Stats().SeriesLen(types.OpCancelOrder)
	assert.Equal(t, 1, success)
	assert.Empty(t, adapter.Close(context.Background()))
}
