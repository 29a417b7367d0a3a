package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueKind identifies one of the supported venue adapters.
type VenueKind string

const (
	VenueBinanceREST VenueKind = "binance-rest"
	VenueBinanceWS   VenueKind = "binance-ws"
	VenueBybitREST   VenueKind = "bybit-rest"

	VenueHyperliquidREST VenueKind = "hyperliquid-rest"
	VenueHyperliquidWS   VenueKind = "hyperliquid-ws"
)

// PriceLevel represents a price and quantity pair in order book
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Orderbook is a canonical snapshot: bids by descending price, asks by ascending price.
type Orderbook struct {
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	ReceivedAt time.Time    `json:"received_at"`
}

// BestBid returns the top of the bid side.
func (o *Orderbook) BestBid() (PriceLevel, bool) {
	if o == nil || len(o.Bids) == 0 {
		return PriceLevel{}, false
	}
	return o.Bids[0], true
}

// BestAsk returns the top of the ask side.
func (o *Orderbook) BestAsk() (PriceLevel, bool) {
	if o == nil || len(o.Asks) == 0 {
		return PriceLevel{}, false
	}
	return o.Asks[0], true
}

// Mid returns (bestBid + bestAsk) / 2.
func (o *Orderbook) Mid() (decimal.Decimal, bool) {
	bid, ok := o.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := o.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}
