package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
)

func newRESTServer(t *testing.T, f *fakeExchange) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/info":
			_, reply := f.handleInfo(body)
			if reply == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte("Failed to deserialize the JSON body"))
				return
			}
			_, _ = w.Write([]byte(reply))
		case "/exchange":
			_, _ = w.Write([]byte(f.handleExchange(body)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRESTTransport(t *testing.T, f *fakeExchange) (*Transport, *Signer) {
	srv := newRESTServer(t, f)
	signer := newTestSigner(t, true)
	return NewTransport(NewClient(Config{BaseURL: srv.URL}), signer, ""), signer
}

func TestTransport_FetchOrderbook(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	payload, err := transport.FetchOrderbook(context.Background(), "BTC")
	require.NoError(t, err)

	bids, asks := venue.ExtractBestBidAsk(payload)
	require.Len(t, bids, 2)
	require.Len(t, asks, 1)
	assert.Equal(t, "60000", bids[0].Price.String())
	assert.Equal(t, "60010", asks[0].Price.String())
	assert.Equal(t, []string{"l2Book"}, f.infoTypes())
}

func TestTransport_SubmitLimitOrder(t *testing.T) {
	f := newFakeExchange()
	transport, signer := newRESTTransport(t, f)

	id, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol:   "ETH",
		Side:     types.OrderSideBuy,
		Price:    "2850.5",
		Quantity: "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, "77738308", id)

	got := f.lastAction()
	assert.Equal(t, "order", got.Type)
	assert.Equal(t, signer.Address(), got.SignedBy)
	assert.Equal(t, groupingNone, got.Order.Grouping)
	require.Len(t, got.Order.Orders, 1)
	order := got.Order.Orders[0]
	assert.Equal(t, 1, order.Asset)
	assert.True(t, order.IsBuy)
	assert.Equal(t, "2850.5", order.Price)
	assert.Equal(t, "0.01", order.Size)
	assert.False(t, order.ReduceOnly)
	assert.Equal(t, tifGTC, order.Type.Limit.Tif)
}

func TestTransport_AssetMetadataFetchedOnce(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	for i := 0; i < 3; i++ {
		_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
			Symbol: "BTC", Side: types.OrderSideBuy, Price: "57005", Quantity: "0.0001",
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"meta"}, f.infoTypes())
	assert.Equal(t, 0, f.lastAction().Order.Orders[0].Asset)
}

func TestTransport_UnknownAsset(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "DOGE", Side: types.OrderSideBuy, Price: "1", Quantity: "1",
	})
	var rejected *types.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, types.RejectOther, rejected.Reason)
	assert.Equal(t, 0, f.actionCount())
}

func TestTransport_OrderStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		reason types.RejectReason
	}{
		{"insufficient margin", "Insufficient margin to place order. asset=0", types.RejectInsufficientFunds},
		{"tick size", "Price must be divisible by tick size. asset=0", types.RejectPrecision},
		{"min value", "Order must have minimum value of $10. asset=0", types.RejectFilter},
		{"invalid size", "Order has invalid size.", types.RejectFilter},
		{"other", "Post only order would have immediately matched", types.RejectOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeExchange()
			f.setAction("order", fmt.Sprintf(
				`{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":%q}]}}}`, tt.msg))
			transport, _ := newRESTTransport(t, f)

			_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
				Symbol: "BTC", Side: types.OrderSideBuy, Price: "57005", Quantity: "0.0001",
			})
			var rejected *types.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.reason, rejected.Reason)
			assert.Equal(t, tt.msg, rejected.Message)
			assert.Equal(t, types.ClassVenueRejected, types.Classify(err))
		})
	}
}

func TestTransport_ErrEnvelope(t *testing.T) {
	f := newFakeExchange()
	f.setAction("order", `{"status":"err","response":"User or API Wallet 0x0 does not exist."}`)
	transport, _ := newRESTTransport(t, f)

	_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "BTC", Side: types.OrderSideBuy, Price: "57005", Quantity: "0.0001",
	})
	var rejected *types.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "User or API Wallet 0x0 does not exist.", rejected.Message)
}

func TestTransport_FilledOnPlacement(t *testing.T) {
	f := newFakeExchange()
	f.setAction("order", `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.0001","avgPx":"60010","oid":9}}]}}}`)
	transport, _ := newRESTTransport(t, f)

	id, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "BTC", Side: types.OrderSideBuy, Price: "60010", Quantity: "0.0001",
	})
	assert.Empty(t, id)
	assert.Equal(t, types.ClassVenueRejected, types.Classify(err))
}

func TestTransport_SubmitWithoutStatuses(t *testing.T) {
	f := newFakeExchange()
	f.setAction("order", `{"status":"ok","response":{"type":"order","data":{"statuses":[]}}}`)
	transport, _ := newRESTTransport(t, f)

	_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "BTC", Side: types.OrderSideBuy, Price: "57005", Quantity: "0.0001",
	})
	assert.Equal(t, types.ClassMalformed, types.Classify(err))
}

func TestTransport_CancelOrder(t *testing.T) {
	f := newFakeExchange()
	transport, signer := newRESTTransport(t, f)

	require.NoError(t, transport.CancelOrder(context.Background(), "BTC", "77738308"))
	got := f.lastAction()
	assert.Equal(t, "cancel", got.Type)
	assert.Equal(t, signer.Address(), got.SignedBy)
	assert.Equal(t, []cancelWire{{Asset: 0, OID: 77738308}}, got.Cancel.Cancels)
}

func TestTransport_CancelOrderNotFound(t *testing.T) {
	f := newFakeExchange()
	f.setAction("cancel", `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order was never placed, already canceled, or filled. asset=0"}]}}}`)
	transport, _ := newRESTTransport(t, f)

	err := transport.CancelOrder(context.Background(), "BTC", "1")
	assert.True(t, errors.Is(err, types.ErrOrderNotFound))
}

func TestTransport_CancelOrderNonNumericID(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	err := transport.CancelOrder(context.Background(), "BTC", "client-1")
	assert.True(t, errors.Is(err, types.ErrOrderNotFound))
	assert.Equal(t, 0, f.actionCount())
}

func TestTransport_OpenOrders(t *testing.T) {
	f := newFakeExchange()
	f.setInfo("openOrders", `[
		{"coin":"BTC","limitPx":"57005.0","oid":11,"side":"B","sz":"0.0001","timestamp":1700000000000},
		{"coin":"ETH","limitPx":"2850.5","oid":12,"side":"B","sz":"0.01","timestamp":1700000000001},
		{"coin":"BTC","limitPx":"63000.0","oid":13,"side":"A","sz":"0.0002","timestamp":1700000000002}
	]`)
	transport, _ := newRESTTransport(t, f)

	orders, err := transport.OpenOrders(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "11", orders[0].ID)
	assert.Equal(t, types.OrderSideBuy, orders[0].Side)
	assert.Equal(t, "57005", orders[0].Price.String())
	assert.Equal(t, "0.0001", orders[0].Quantity.String())
	assert.Equal(t, int64(1700000000000), orders[0].CreatedAt.UnixMilli())
	assert.Equal(t, types.OrderSideSell, orders[1].Side)
}

func TestTransport_OpenOrdersUsesAccountAddress(t *testing.T) {
	f := newFakeExchange()
	srv := newRESTServer(t, f)
	transport := NewTransport(NewClient(Config{BaseURL: srv.URL}), newTestSigner(t, true), "0xabc")

	_, err := transport.OpenOrders(context.Background(), "BTC")
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "0xabc", f.infos[0].User)
}

func TestTransport_CancelAll(t *testing.T) {
	f := newFakeExchange()
	f.setInfo("openOrders", `[
		{"coin":"BTC","limitPx":"57005.0","oid":11,"side":"B","sz":"0.0001","timestamp":1},
		{"coin":"ETH","limitPx":"2850.5","oid":12,"side":"B","sz":"0.01","timestamp":1},
		{"coin":"BTC","limitPx":"57006.0","oid":13,"side":"B","sz":"0.0001","timestamp":1}
	]`)
	f.setAction("cancel", `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success",{"error":"Order was never placed, already canceled, or filled. asset=0"}]}}}`)
	transport, _ := newRESTTransport(t, f)

	require.NoError(t, transport.CancelAll(context.Background(), "BTC"))
	assert.Equal(t, []cancelWire{{Asset: 0, OID: 11}, {Asset: 0, OID: 13}}, f.lastAction().Cancel.Cancels)
}

func TestTransport_CancelAllNothingOpen(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	require.NoError(t, transport.CancelAll(context.Background(), "BTC"))
	assert.Equal(t, 0, f.actionCount())
}

func TestTransport_CancelAllReportsFailures(t *testing.T) {
	f := newFakeExchange()
	f.setInfo("openOrders", `[{"coin":"BTC","limitPx":"57005.0","oid":11,"side":"B","sz":"0.0001","timestamp":1}]`)
	f.setAction("cancel", `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Insufficient margin"}]}}}`)
	transport, _ := newRESTTransport(t, f)

	err := transport.CancelAll(context.Background(), "BTC")
	var rejected *types.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, types.RejectInsufficientFunds, rejected.Reason)
}

func TestTransport_FallbackPrice(t *testing.T) {
	f := newFakeExchange()
	transport, _ := newRESTTransport(t, f)

	price, err := transport.FallbackPrice("BTC")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "60005", price.String())

	_, err = transport.FallbackPrice("DOGE")(context.Background())
	assert.Error(t, err)
}

func TestTransport_HTTPError(t *testing.T) {
	f := newFakeExchange()
	f.setInfo("l2Book", "")
	transport, _ := newRESTTransport(t, f)

	_, err := transport.FetchOrderbook(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, types.ClassUnclassified, types.Classify(err))
}

func TestTransport_NoSigner(t *testing.T) {
	f := newFakeExchange()
	srv := newRESTServer(t, f)
	transport := NewTransport(NewClient(Config{BaseURL: srv.URL}), nil, "0xabc")

	_, err := transport.SubmitLimitOrder(context.Background(), types.LimitOrderRequest{
		Symbol: "BTC", Side: types.OrderSideBuy, Price: "57005", Quantity: "0.0001",
	})
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestTransport_RESTAdapterRoundTrip(t *testing.T) {
	f := newFakeExchange()
	f.setAction("cancel", `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Rate limited"}]}}}`)
	transport, _ := newRESTTransport(t, f)

	cfg := venue.DefaultProberConfig(string(types.VenueHyperliquidREST), "BTC")
	cfg.Precision = venue.Precision{
		Tick:             venue.FixedTick{Size: decimal.NewFromInt(1)},
		QuantityDecimals: 5,
	}
	adapter := venue.NewRestAdapter(venue.NewProber(cfg, transport))

	require.NoError(t, adapter.ProbeMarketData(context.Background()))
	require.NoError(t, adapter.PlaceProbeOrder(context.Background()))

	orders := f.actionsOf("order")
	require.Len(t, orders, 1)
	placed := orders[0].Order.Orders[0]
	assert.Equal(t, "57005", placed.Price)
	assert.Equal(t, "0.0001", placed.Size)
	assert.Equal(t, 1, adapter.Ledger().Len())
	assert.Equal(t, int64(1), adapter.Stats().Counters(types.OpCancelOrder).Failures)

	f.setInfo("openOrders", `[{"coin":"BTC","limitPx":"57005.0","oid":77738308,"side":"B","sz":"0.0001","timestamp":1}]`)
	f.setAction("cancel", `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`)
	assert.Empty(t, adapter.Close(context.Background()))
	assert.Equal(t, "cancel", f.lastAction().Type)
	assert.Equal(t, 0, adapter.Ledger().Len())
}
