package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	testnetBaseURL = "https://testnet.binance.vision"
	depthLimit     = 5
)

// RESTConfig configures the REST transport.
type RESTConfig struct {
	APIKey      string
	SecretKey   string
	Testnet     bool
	BaseURL     string // overrides Testnet when set
	AccountMode types.AccountMode

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// RESTTransport talks to the Binance REST API through go-binance.
type RESTTransport struct {
	client  *binance.Client
	mode    types.AccountMode
	limiter *rate.Limiter
	logger  *logrus.Entry
}

func NewRESTTransport(cfg RESTConfig) *RESTTransport {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.Testnet {
		client.BaseURL = testnetBaseURL
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	mode := cfg.AccountMode
	if mode == "" {
		mode = types.AccountModeSpot
	}

	return &RESTTransport{
		client:  client,
		mode:    mode,
		limiter: limiter,
		logger: logrus.WithFields(logrus.Fields{
			"exchange":  "binance",
			"transport": "rest",
			"mode":      mode,
		}),
	}
}

func (t *RESTTransport) margin() bool {
	return t.mode == types.AccountModeMargin
}

func (t *RESTTransport) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// FetchOrderbook returns the top of book as a canonical *types.Orderbook.
func (t *RESTTransport) FetchOrderbook(ctx context.Context, symbol string) (any, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	res, err := t.client.NewDepthService().Symbol(symbol).Limit(depthLimit).Do(ctx)
	if err != nil {
		return nil, mapError(venueName, err)
	}

	book := &types.Orderbook{
		Symbol:     symbol,
		Bids:       make([]types.PriceLevel, 0, len(res.Bids)),
		Asks:       make([]types.PriceLevel, 0, len(res.Asks)),
		ReceivedAt: time.Now(),
	}
	for _, bid := range res.Bids {
		if level, ok := priceLevel(bid.Price, bid.Quantity); ok {
			book.Bids = append(book.Bids, level)
		}
	}
	for _, ask := range res.Asks {
		if level, ok := priceLevel(ask.Price, ask.Quantity); ok {
			book.Asks = append(book.Asks, level)
		}
	}
	return book, nil
}

func priceLevel(price, qty string) (types.PriceLevel, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.PriceLevel{}, false
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.PriceLevel{}, false
	}
	return types.PriceLevel{Price: p, Quantity: q}, true
}

// SubmitLimitOrder places a GTC limit order and returns the venue order id.
func (t *RESTTransport) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}

	var (
		res *binance.CreateOrderResponse
		err error
	)
	if t.margin() {
		svc := t.client.NewCreateMarginOrderService().
			Symbol(req.Symbol).
			Side(ConvertSide(req.Side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(req.Quantity).
			Price(req.Price)
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}
		res, err = svc.Do(ctx)
	} else {
		svc := t.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(ConvertSide(req.Side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(req.Quantity).
			Price(req.Price)
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}
		res, err = svc.Do(ctx)
	}
	if err != nil {
		mapped := mapError(venueName, err)
		logPrecision(t.logger, mapped, req)
		return "", mapped
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// CancelOrder cancels by numeric order id, or by client order id otherwise.
func (t *RESTTransport) CancelOrder(ctx context.Context, symbol, id string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	orderID, numErr := strconv.ParseInt(id, 10, 64)

	var err error
	if t.margin() {
		svc := t.client.NewCancelMarginOrderService().Symbol(symbol)
		if numErr == nil {
			svc = svc.OrderID(orderID)
		} else {
			svc = svc.OrigClientOrderID(id)
		}
		_, err = svc.Do(ctx)
	} else {
		svc := t.client.NewCancelOrderService().Symbol(symbol)
		if numErr == nil {
			svc = svc.OrderID(orderID)
		} else {
			svc = svc.OrigClientOrderID(id)
		}
		_, err = svc.Do(ctx)
	}
	return mapError(venueName, err)
}

// CancelAll cancels every open order on symbol. Margin accounts fall back to
// per-order cancellation.
func (t *RESTTransport) CancelAll(ctx context.Context, symbol string) error {
	if t.margin() {
		return types.ErrUnsupported
	}
	if err := t.wait(ctx); err != nil {
		return err
	}
	_, err := t.client.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
	return mapError(venueName, err)
}

// OpenOrders lists the account's open orders on symbol.
func (t *RESTTransport) OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	var (
		orders []*binance.Order
		err    error
	)
	if t.margin() {
		orders, err = t.client.NewListMarginOpenOrdersService().Symbol(symbol).Do(ctx)
	} else {
		orders, err = t.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	}
	if err != nil {
		return nil, mapError(venueName, err)
	}

	result := make([]types.VenueOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		result = append(result, types.VenueOrder{
			ID:        strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      string(o.Side),
			Price:     price,
			Quantity:  qty,
			Status:    string(o.Status),
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return result, nil
}

// LastPrice returns the latest traded price, used when no order book is known.
func (t *RESTTransport) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := t.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	prices, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, mapError(venueName, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("no ticker price for %s", symbol)
}

// FallbackPrice adapts LastPrice to the prober's fallback price hook.
func (t *RESTTransport) FallbackPrice(symbol string) func(ctx context.Context) (decimal.Decimal, error) {
	return func(ctx context.Context) (decimal.Decimal, error) {
		return t.LastPrice(ctx, symbol)
	}
}

func (t *RESTTransport) Close() error {
	return nil
}
