package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/mExOms/venueprobe/pkg/types"
)

const (
	tifGTC       = "Gtc"
	groupingNone = "na"

	// openOrders sides are "B" for bids and "A" for asks.
	sideAsk = "A"
)

// requester carries info queries and signed actions to the exchange. The
// REST client and the WebSocket client both implement it.
type requester interface {
	Info(ctx context.Context, req any) (json.RawMessage, error)
	Exchange(ctx context.Context, req *ExchangeRequest) (json.RawMessage, error)
	Close() error
}

// Transport implements the probe transport for perpetuals. Symbols are coin
// names such as "BTC".
type Transport struct {
	api    requester
	signer *Signer
	user   string

	mu     sync.Mutex
	assets map[string]int
}

// NewTransport queries open orders for user, the account address, which may
// differ from the signer's API wallet.
func NewTransport(api requester, signer *Signer, user string) *Transport {
	if user == "" && signer != nil {
		user = signer.Address()
	}
	return &Transport{api: api, signer: signer, user: user}
}

// FetchOrderbook returns the raw l2Book snapshot, shaped {"levels":[[bids],[asks]]}.
func (t *Transport) FetchOrderbook(ctx context.Context, symbol string) (any, error) {
	raw, err := t.api.Info(ctx, infoRequest{Type: "l2Book", Coin: symbol})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "empty l2Book"}
	}
	return []byte(raw), nil
}

// SubmitLimitOrder places a GTC limit order and returns the resting oid.
func (t *Transport) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error) {
	asset, err := t.assetIndex(ctx, req.Symbol)
	if err != nil {
		return "", err
	}
	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset: asset,
			IsBuy: !strings.EqualFold(req.Side, types.OrderSideSell),
			Price: req.Price,
			Size:  req.Quantity,
			Type:  orderType{Limit: limitType{Tif: tifGTC}},
		}},
		Grouping: groupingNone,
	}

	statuses, err := t.exchange(ctx, action)
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", &types.MalformedResponseError{Venue: venueName, Shape: "order response without statuses"}
	}

	var st orderStatus
	if err := json.Unmarshal(statuses[0], &st); err != nil {
		return "", &types.MalformedResponseError{Venue: venueName, Shape: "order status is not an object"}
	}
	switch {
	case st.Error != "":
		return "", rejection(st.Error)
	case st.Resting != nil:
		return strconv.FormatInt(st.Resting.OID, 10), nil
	case st.Filled != nil:
		return "", &types.RejectedError{Venue: venueName, Reason: types.RejectOther,
			Message: fmt.Sprintf("order %d filled on placement", st.Filled.OID)}
	}
	return "", &types.MalformedResponseError{Venue: venueName, Shape: "order status neither resting nor filled"}
}

// CancelOrder cancels by oid. Hyperliquid has no cancel by client id here.
func (t *Transport) CancelOrder(ctx context.Context, symbol, id string) error {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return &types.RejectedError{Venue: venueName, Reason: types.RejectNotFound,
			Message: fmt.Sprintf("order id %q is not an oid", id)}
	}
	asset, err := t.assetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	errs, err := t.cancel(ctx, []cancelWire{{Asset: asset, OID: oid}})
	if err != nil {
		return err
	}
	return errs[0]
}

// CancelAll cancels every open order on symbol in one batch. Orders that are
// already gone count as cancelled.
func (t *Transport) CancelAll(ctx context.Context, symbol string) error {
	open, err := t.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	asset, err := t.assetIndex(ctx, symbol)
	if err != nil {
		return err
	}

	cancels := make([]cancelWire, 0, len(open))
	for _, o := range open {
		oid, _ := strconv.ParseInt(o.ID, 10, 64)
		cancels = append(cancels, cancelWire{Asset: asset, OID: oid})
	}
	errs, err := t.cancel(ctx, cancels)
	if err != nil {
		return err
	}

	var combined error
	for _, e := range errs {
		if e != nil && !errors.Is(e, types.ErrOrderNotFound) {
			combined = multierr.Append(combined, e)
		}
	}
	return combined
}

// OpenOrders lists the account's open orders on symbol.
func (t *Transport) OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error) {
	raw, err := t.api.Info(ctx, infoRequest{Type: "openOrders", User: t.user})
	if err != nil {
		return nil, err
	}
	var list []openOrder
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "openOrders is not a list"}
	}

	orders := make([]types.VenueOrder, 0, len(list))
	for _, o := range list {
		if o.Coin != symbol {
			continue
		}
		price, _ := decimal.NewFromString(o.LimitPx)
		qty, _ := decimal.NewFromString(o.Size)
		orders = append(orders, types.VenueOrder{
			ID:        strconv.FormatInt(o.OID, 10),
			Symbol:    o.Coin,
			Side:      convertSide(o.Side),
			Price:     price,
			Quantity:  qty,
			Status:    "open",
			CreatedAt: time.UnixMilli(o.Timestamp),
		})
	}
	return orders, nil
}

// FallbackPrice reads the coin's mid price from allMids.
func (t *Transport) FallbackPrice(coin string) func(ctx context.Context) (decimal.Decimal, error) {
	return func(ctx context.Context) (decimal.Decimal, error) {
		raw, err := t.api.Info(ctx, infoRequest{Type: "allMids"})
		if err != nil {
			return decimal.Zero, err
		}
		var mids map[string]string
		if err := json.Unmarshal(raw, &mids); err != nil {
			return decimal.Zero, &types.MalformedResponseError{Venue: venueName, Shape: "allMids is not an object"}
		}
		mid, ok := mids[coin]
		if !ok {
			return decimal.Zero, fmt.Errorf("%s: no mid price for %s", venueName, coin)
		}
		return decimal.NewFromString(mid)
	}
}

func (t *Transport) Close() error {
	return t.api.Close()
}

// assetIndex resolves coin to its position in the perpetuals universe. The
// universe is fetched once.
func (t *Transport) assetIndex(ctx context.Context, coin string) (int, error) {
	t.mu.Lock()
	assets := t.assets
	t.mu.Unlock()

	if assets == nil {
		raw, err := t.api.Info(ctx, infoRequest{Type: "meta"})
		if err != nil {
			return 0, fmt.Errorf("asset metadata: %w", err)
		}
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil || len(m.Universe) == 0 {
			return 0, &types.MalformedResponseError{Venue: venueName, Shape: "meta without universe"}
		}
		assets = make(map[string]int, len(m.Universe))
		for i, a := range m.Universe {
			assets[a.Name] = i
		}
		t.mu.Lock()
		t.assets = assets
		t.mu.Unlock()
	}

	idx, ok := assets[coin]
	if !ok {
		return 0, &types.RejectedError{Venue: venueName, Reason: types.RejectOther,
			Message: fmt.Sprintf("unknown asset %s", coin)}
	}
	return idx, nil
}

// exchange signs and sends action and returns the per-item statuses.
func (t *Transport) exchange(ctx context.Context, action any) ([]json.RawMessage, error) {
	if t.signer == nil {
		return nil, fmt.Errorf("%s: no signing key: %w", venueName, types.ErrUnsupported)
	}
	req, err := t.signer.Sign(action, t.signer.Nonce())
	if err != nil {
		return nil, err
	}
	raw, err := t.api.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	var env exchangeResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "exchange response is not an object"}
	}
	if env.Status != "ok" {
		var msg string
		if err := json.Unmarshal(env.Response, &msg); err != nil {
			msg = string(env.Response)
		}
		return nil, rejection(msg)
	}

	var data exchangeData
	if err := json.Unmarshal(env.Response, &data); err != nil {
		return nil, &types.MalformedResponseError{Venue: venueName, Shape: "exchange response without data"}
	}
	return data.Data.Statuses, nil
}

// cancel sends one batch and returns one error (or nil) per cancel.
func (t *Transport) cancel(ctx context.Context, cancels []cancelWire) ([]error, error) {
	statuses, err := t.exchange(ctx, cancelAction{Type: "cancel", Cancels: cancels})
	if err != nil {
		return nil, err
	}
	if len(statuses) != len(cancels) {
		return nil, &types.MalformedResponseError{Venue: venueName,
			Shape: fmt.Sprintf("%d cancel statuses for %d cancels", len(statuses), len(cancels))}
	}

	errs := make([]error, len(statuses))
	for i, raw := range statuses {
		var ok string
		if json.Unmarshal(raw, &ok) == nil && ok == "success" {
			continue
		}
		var st orderStatus
		if err := json.Unmarshal(raw, &st); err != nil || st.Error == "" {
			errs[i] = &types.MalformedResponseError{Venue: venueName, Shape: "unrecognized cancel status"}
			continue
		}
		errs[i] = rejection(st.Error)
	}
	return errs, nil
}

func convertSide(side string) string {
	if side == sideAsk {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}
