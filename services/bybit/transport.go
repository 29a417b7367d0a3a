package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	categorySpot = "spot"
	depthLimit   = 5
)

// Transport implements the probe transport on the v5 spot endpoints.
type Transport struct {
	client *Client
	mode   types.AccountMode
}

func NewTransport(client *Client, mode types.AccountMode) *Transport {
	if mode == "" {
		mode = types.AccountModeSpot
	}
	return &Transport{client: client, mode: mode}
}

// FetchOrderbook returns the raw result, shaped {"s","b":[[p,s]],"a":[[p,s]]}.
func (t *Transport) FetchOrderbook(ctx context.Context, symbol string) (any, error) {
	var raw json.RawMessage
	err := t.client.PublicRequest(ctx, http.MethodGet, "/market/orderbook", map[string]interface{}{
		"category": categorySpot,
		"symbol":   symbol,
		"limit":    depthLimit,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (t *Transport) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error) {
	params := map[string]interface{}{
		"category":    categorySpot,
		"symbol":      req.Symbol,
		"side":        convertSide(req.Side),
		"orderType":   "Limit",
		"qty":         req.Quantity,
		"price":       req.Price,
		"timeInForce": types.TimeInForceGTC,
	}
	if req.ClientOrderID != "" {
		params["orderLinkId"] = req.ClientOrderID
	}
	if t.mode == types.AccountModeMargin {
		params["isLeverage"] = 1
	}

	var result OrderResult
	if err := t.client.Request(ctx, http.MethodPost, "/order/create", params, &result); err != nil {
		return "", err
	}
	if result.OrderID == "" {
		return "", &types.MalformedResponseError{Venue: venueName, Shape: "order/create result without orderId"}
	}
	return result.OrderID, nil
}

func (t *Transport) CancelOrder(ctx context.Context, symbol, id string) error {
	return t.client.Request(ctx, http.MethodPost, "/order/cancel", map[string]interface{}{
		"category": categorySpot,
		"symbol":   symbol,
		"orderId":  id,
	}, nil)
}

func (t *Transport) CancelAll(ctx context.Context, symbol string) error {
	return t.client.Request(ctx, http.MethodPost, "/order/cancel-all", map[string]interface{}{
		"category": categorySpot,
		"symbol":   symbol,
	}, nil)
}

func (t *Transport) OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error) {
	var result OrderList
	err := t.client.Request(ctx, http.MethodGet, "/order/realtime", map[string]interface{}{
		"category": categorySpot,
		"symbol":   symbol,
		"openOnly": 0,
	}, &result)
	if err != nil {
		return nil, err
	}

	orders := make([]types.VenueOrder, 0, len(result.List))
	for _, o := range result.List {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.Qty)
		created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
		orders = append(orders, types.VenueOrder{
			ID:        o.OrderID,
			Symbol:    o.Symbol,
			Side:      strings.ToUpper(o.Side),
			Price:     price,
			Quantity:  qty,
			Status:    o.OrderStatus,
			CreatedAt: time.UnixMilli(created),
		})
	}
	return orders, nil
}

func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func convertSide(side string) string {
	if strings.EqualFold(side, types.OrderSideSell) {
		return "Sell"
	}
	return "Buy"
}
