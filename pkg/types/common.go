package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order types
const (
	OrderTypeLimit = "LIMIT"
)

// Time in force
const (
	TimeInForceGTC = "GTC" // Good Till Cancel
)

// Account modes
type AccountMode string

const (
	AccountModeSpot   AccountMode = "spot"
	AccountModeMargin AccountMode = "margin"
)

// Operation identifies the kind of probe a latency sample belongs to.
type Operation string

const (
	OpPlaceOrder  Operation = "place_order"
	OpCancelOrder Operation = "cancel_order"
	OpMarketData  Operation = "market_data"
)

// Operations lists every operation kind in display order.
var Operations = []Operation{OpMarketData, OpPlaceOrder, OpCancelOrder}

// Label returns the human readable name used in tables.
func (o Operation) Label() string {
	switch o {
	case OpPlaceOrder:
		return "Place Order"
	case OpCancelOrder:
		return "Cancel Order"
	case OpMarketData:
		return "Orderbook"
	default:
		return string(o)
	}
}

// OpenOrder is a probe order accepted by a venue and not yet confirmed cancelled.
type OpenOrder struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Venue    string          `json:"venue"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	PlacedAt time.Time       `json:"placed_at"`
}

// VenueOrder is an open order as reported by the venue itself.
type VenueOrder struct {
	ID        string
	Symbol    string
	Side      string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// LimitOrderRequest carries an already rounded and formatted probe order.
type LimitOrderRequest struct {
	Symbol        string
	Side          string
	Price         string
	Quantity      string
	ClientOrderID string
}

// OrphanCandidate describes a placement whose acknowledgement never arrived.
// The venue may still have accepted it.
type OrphanCandidate struct {
	Symbol   string
	Side     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	SentAt   time.Time
}
