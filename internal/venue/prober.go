package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

// ProberConfig is the per-adapter probe configuration.
type ProberConfig struct {
	Venue        string
	Symbol       string
	OrderSize    decimal.Decimal
	MarketOffset decimal.Decimal
	Precision    Precision
	// CallTimeout bounds every single transport call.
	CallTimeout time.Duration
}

// DefaultProberConfig returns the stock order sizing for venue on symbol.
func DefaultProberConfig(venue, symbol string) ProberConfig {
	return ProberConfig{
		Venue:        venue,
		Symbol:       symbol,
		OrderSize:    decimal.RequireFromString("0.0001"),
		MarketOffset: decimal.RequireFromString("0.05"),
		Precision: Precision{
			Tick:             FixedTick{Size: decimal.RequireFromString("0.01")},
			QuantityDecimals: 6,
			PriceDecimals:    2,
			MinPriceDecimals: 2,
			MinQuantity:      decimal.RequireFromString("0.000001"),
		},
		CallTimeout: 10 * time.Second,
	}
}

// Prober implements the probe semantics shared by every adapter: it times
// transport calls, feeds the stats recorder and keeps the order ledger.
//
// Recoverable errors (timeout, connection closed) are returned so a
// supervisor can act on them. Every other failure is recorded and swallowed.
type Prober struct {
	cfg       ProberConfig
	transport Transport
	fallback  Transport
	stats     *stats.Recorder
	ledger    *ledger.Ledger
	sink      events.Sink
	logger    *logrus.Entry

	mu   sync.RWMutex
	book *types.Orderbook
	mid  decimal.Decimal
	has  bool

	onPlacementTimeout func(types.OrphanCandidate)
	fallbackPrice      func(ctx context.Context) (decimal.Decimal, error)
}

// ProberOption customizes a Prober.
type ProberOption func(*Prober)

// WithFallbackTransport sets the transport used for cleanup stragglers.
func WithFallbackTransport(t Transport) ProberOption {
	return func(p *Prober) { p.fallback = t }
}

// WithSink routes probe and cleanup events to sink.
func WithSink(sink events.Sink) ProberOption {
	return func(p *Prober) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithLogger overrides the default logger entry.
func WithLogger(logger *logrus.Entry) ProberOption {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFallbackPrice sets a price source used when no mid price is known.
func WithFallbackPrice(fn func(ctx context.Context) (decimal.Decimal, error)) ProberOption {
	return func(p *Prober) { p.fallbackPrice = fn }
}

func NewProber(cfg ProberConfig, transport Transport, opts ...ProberOption) *Prober {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	p := &Prober{
		cfg:       cfg,
		transport: transport,
		stats:     stats.NewRecorder(),
		ledger:    ledger.New(),
		sink:      events.Discard,
		logger:    logrus.WithField("venue", cfg.Venue),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prober) Name() string           { return p.cfg.Venue }
func (p *Prober) Stats() *stats.Recorder { return p.stats }
func (p *Prober) Ledger() *ledger.Ledger { return p.ledger }
func (p *Prober) Transport() Transport   { return p.transport }
func (p *Prober) Config() ProberConfig   { return p.cfg }
func (p *Prober) Logger() *logrus.Entry  { return p.logger }

// OnPlacementTimeout registers the hook called when a placement times out.
func (p *Prober) OnPlacementTimeout(fn func(types.OrphanCandidate)) {
	p.onPlacementTimeout = fn
}

// MidPrice returns the mid of the latest recognized snapshot.
func (p *Prober) MidPrice() (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mid, p.has
}

// Orderbook returns the latest recognized snapshot, or nil.
func (p *Prober) Orderbook() *types.Orderbook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.book
}

func (p *Prober) storeBook(bids, asks []types.PriceLevel) {
	book := &types.Orderbook{Symbol: p.cfg.Symbol, Bids: bids, Asks: asks, ReceivedAt: time.Now()}
	mid, ok := book.Mid()
	p.mu.Lock()
	p.book = book
	p.mid, p.has = mid, ok
	p.mu.Unlock()
}

func (p *Prober) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.CallTimeout)
}

// normalize maps a deadline hit by the per-call timeout onto ErrTimeout.
func normalize(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
		return fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return err
}

// ProbeMarketData fetches one orderbook snapshot.
func (p *Prober) ProbeMarketData(ctx context.Context) error {
	op := types.OpMarketData
	cctx, cancel := p.call(ctx)
	start := time.Now()
	payload, err := p.transport.FetchOrderbook(cctx, p.cfg.Symbol)
	elapsed := time.Since(start)
	cancel()
	p.stats.RecordTotal(op, elapsed)

	if err != nil {
		err = normalize(err)
		p.stats.RecordFailure(op)
		p.publishFailure(op, elapsed, err, nil)
		if types.IsRecoverable(err) {
			return err
		}
		return nil
	}

	bids, asks := ExtractBestBidAsk(payload)
	if bids == nil {
		p.stats.RecordFailure(op)
		malformed := &types.MalformedResponseError{Venue: p.cfg.Venue, Shape: PayloadShape(payload)}
		p.publishFailure(op, elapsed, malformed, nil)
		return nil
	}

	p.stats.RecordSuccess(op, elapsed)
	p.storeBook(bids, asks)
	p.publish(events.Event{Kind: events.KindProbe, Operation: op, Outcome: events.OutcomeSuccess, Latency: elapsed})
	return nil
}

// PlaceProbeOrder submits a probe order and immediately cancels it.
func (p *Prober) PlaceProbeOrder(ctx context.Context) error {
	id, err := p.SubmitProbeOrder(ctx)
	if err != nil || id == "" {
		return err
	}
	return p.CancelOrder(ctx, id)
}

// ProbePrice returns the limit price for the next probe order, fetching a
// snapshot or the fallback price when no mid price is known.
func (p *Prober) ProbePrice(ctx context.Context) (decimal.Decimal, bool, error) {
	mid, ok := p.MidPrice()
	if !ok {
		if err := p.ProbeMarketData(ctx); err != nil {
			return decimal.Zero, false, err
		}
		mid, ok = p.MidPrice()
	}
	if !ok && p.fallbackPrice != nil {
		cctx, cancel := p.call(ctx)
		price, err := p.fallbackPrice(cctx)
		cancel()
		if err == nil && price.Sign() > 0 {
			mid, ok = price, true
		} else if err != nil {
			p.logger.WithError(err).Debug("fallback price unavailable")
		}
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	raw := mid.Mul(decimal.NewFromInt(1).Sub(p.cfg.MarketOffset))
	return RoundToTick(raw, p.cfg.Precision.Tick), true, nil
}

// SubmitProbeOrder places a probe order and registers it in the ledger. It
// returns the venue order id, or "" when nothing was accepted.
func (p *Prober) SubmitProbeOrder(ctx context.Context) (string, error) {
	op := types.OpPlaceOrder
	price, ok, err := p.ProbePrice(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		// no attempt was made, nothing is counted
		p.logger.Warn("skipping order probe: no mid price")
		return "", nil
	}

	priceStr, warnPrice := p.cfg.Precision.FormatPrice(price)
	qtyStr, warnQty := p.cfg.Precision.FormatQuantity(p.cfg.OrderSize)
	if warnPrice || warnQty {
		p.logger.WithFields(logrus.Fields{"price": priceStr, "quantity": qtyStr}).
			Warn("order parameters substituted with minimum values")
	}
	qty, _ := decimal.NewFromString(qtyStr)

	req := types.LimitOrderRequest{
		Symbol:        p.cfg.Symbol,
		Side:          types.OrderSideBuy,
		Price:         priceStr,
		Quantity:      qtyStr,
		ClientOrderID: "probe-" + uuid.NewString()[:24],
	}

	cctx, cancel := p.call(ctx)
	start := time.Now()
	id, err := p.transport.SubmitLimitOrder(cctx, req)
	elapsed := time.Since(start)
	cancel()
	p.stats.RecordTotal(op, elapsed)

	fields := map[string]interface{}{"price": priceStr, "quantity": qtyStr, "client_order_id": req.ClientOrderID}
	if err != nil {
		err = normalize(err)
		p.stats.RecordFailure(op)
		p.publishFailure(op, elapsed, err, fields)
		if types.Classify(err) == types.ClassTimeout && p.onPlacementTimeout != nil {
			p.onPlacementTimeout(types.OrphanCandidate{
				Symbol:   req.Symbol,
				Side:     req.Side,
				Price:    price,
				Quantity: qty,
				SentAt:   start,
			})
		}
		if types.IsRecoverable(err) {
			return "", err
		}
		return "", nil
	}

	p.stats.RecordSuccess(op, elapsed)
	p.ledger.Add(types.OpenOrder{
		ID:       id,
		Symbol:   req.Symbol,
		Venue:    p.cfg.Venue,
		Price:    price,
		Quantity: qty,
		PlacedAt: start,
	})
	fields["order_id"] = id
	p.publish(events.Event{Kind: events.KindProbe, Operation: op, Outcome: events.OutcomeSuccess, Latency: elapsed, Fields: fields})
	return id, nil
}

// CancelOrder cancels a tracked order. Unknown ids are a no-op and a venue
// "not found" answer counts as success.
func (p *Prober) CancelOrder(ctx context.Context, id string) error {
	op := types.OpCancelOrder
	order, ok := p.ledger.Get(id)
	if !ok {
		p.logger.WithField("order_id", id).Debug("cancel skipped: order not tracked")
		return nil
	}

	cctx, cancel := p.call(ctx)
	start := time.Now()
	err := p.transport.CancelOrder(cctx, order.Symbol, id)
	elapsed := time.Since(start)
	cancel()
	p.stats.RecordTotal(op, elapsed)

	fields := map[string]interface{}{"order_id": id}
	switch {
	case err == nil:
		p.stats.RecordSuccess(op, elapsed)
		p.ledger.Remove(id)
		p.publish(events.Event{Kind: events.KindProbe, Operation: op, Outcome: events.OutcomeSuccess, Latency: elapsed, Fields: fields})
		return nil
	case errors.Is(err, types.ErrOrderNotFound):
		p.stats.RecordSuccess(op, elapsed)
		p.ledger.Remove(id)
		p.publish(events.Event{Kind: events.KindProbe, Operation: op, Outcome: events.OutcomeNotFound, Latency: elapsed, Fields: fields})
		return nil
	}

	err = normalize(err)
	p.stats.RecordFailure(op)
	p.publishFailure(op, elapsed, err, fields)
	if types.IsRecoverable(err) {
		return err
	}
	return nil
}

// CleanupOpenOrders cancels every tracked order: bulk by symbol first, then
// one by one, then through the fallback transport. It never panics.
func (p *Prober) CleanupOpenOrders(ctx context.Context) []types.OpenOrder {
	if p.ledger.Len() == 0 {
		return nil
	}
	p.logger.WithField("open_orders", p.ledger.Len()).Info("cleaning up open orders")

	for _, symbol := range p.ledger.Symbols() {
		err := p.safely(ctx, func(c context.Context) error { return p.transport.CancelAll(c, symbol) })
		switch {
		case err == nil || errors.Is(err, types.ErrOrderNotFound):
			for _, o := range p.ledger.RemoveSymbol(symbol) {
				p.publishCleanup(o, "bulk", nil)
			}
		case errors.Is(err, types.ErrUnsupported):
		default:
			p.logger.WithError(err).WithField("symbol", symbol).Warn("bulk cancel failed")
		}
	}

	p.cancelEach(ctx, p.transport, "per_order")
	if p.fallback != nil && p.ledger.Len() > 0 {
		p.cancelEach(ctx, p.fallback, "fallback")
	}

	stranded := p.ledger.List()
	for _, o := range stranded {
		p.publishCleanup(o, "", errors.New("order still open"))
	}
	return stranded
}

func (p *Prober) cancelEach(ctx context.Context, t Transport, path string) {
	for _, o := range p.ledger.List() {
		o := o
		err := p.safely(ctx, func(c context.Context) error { return t.CancelOrder(c, o.Symbol, o.ID) })
		if err == nil || errors.Is(err, types.ErrOrderNotFound) {
			p.ledger.Remove(o.ID)
			p.publishCleanup(o, path, nil)
			continue
		}
		p.logger.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "path": path}).Warn("cleanup cancel failed")
	}
}

// safely runs fn under the call timeout and turns a panic into an error.
func (p *Prober) safely(ctx context.Context, fn func(context.Context) error) (err error) {
	cctx, cancel := p.call(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during cleanup: %v", r)
		}
	}()
	return fn(cctx)
}

func (p *Prober) publish(e events.Event) {
	e.Venue = p.cfg.Venue
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.sink.Publish(e)
}

func (p *Prober) publishFailure(op types.Operation, elapsed time.Duration, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	class := types.Classify(err)
	fields["class"] = class.String()
	var rejected *types.RejectedError
	if errors.As(err, &rejected) {
		fields["reason"] = string(rejected.Reason)
		fields["code"] = rejected.Code
	}
	var malformed *types.MalformedResponseError
	if errors.As(err, &malformed) {
		fields["shape"] = malformed.Shape
	}
	p.publish(events.Event{
		Kind:      events.KindProbe,
		Operation: op,
		Outcome:   events.OutcomeFailure,
		Latency:   elapsed,
		Error:     err.Error(),
		Fields:    fields,
	})
}

func (p *Prober) publishCleanup(o types.OpenOrder, path string, err error) {
	e := events.Event{
		Kind:      events.KindCleanup,
		Operation: types.OpCancelOrder,
		Outcome:   events.OutcomeSuccess,
		Fields:    map[string]interface{}{"order_id": o.ID, "symbol": o.Symbol},
	}
	if path != "" {
		e.Fields["path"] = path
	}
	if err != nil {
		e.Outcome = events.OutcomeStranded
		e.Error = err.Error()
	}
	p.publish(e)
}
