package venue

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TickRule yields the minimum price increment for a price.
type TickRule interface {
	TickFor(price decimal.Decimal) decimal.Decimal
}

// FixedTick uses one increment for every price.
type FixedTick struct {
	Size decimal.Decimal
}

func (t FixedTick) TickFor(decimal.Decimal) decimal.Decimal { return t.Size }

// TieredTick uses High at or above Threshold and Low below it.
type TieredTick struct {
	Threshold decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
}

func (t TieredTick) TickFor(price decimal.Decimal) decimal.Decimal {
	if price.GreaterThanOrEqual(t.Threshold) {
		return t.High
	}
	return t.Low
}

// RoundToTick rounds half up to the nearest multiple of the tick for price.
// A nil rule or non-positive tick leaves the price untouched.
func RoundToTick(price decimal.Decimal, rule TickRule) decimal.Decimal {
	if rule == nil {
		return price
	}
	tick := rule.TickFor(price)
	if tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// Precision is the per-venue formatting metadata, injected from configuration.
type Precision struct {
	Tick             TickRule
	QuantityDecimals int32
	PriceDecimals    int32
	MinPriceDecimals int32
	// MinQuantity replaces a quantity that formats to zero or less.
	MinQuantity decimal.Decimal
}

// FormatQuantity renders q with at most QuantityDecimals decimals and no
// trailing zeros. The second result is true when MinQuantity was substituted.
func (p Precision) FormatQuantity(q decimal.Decimal) (string, bool) {
	r := q.Round(p.QuantityDecimals)
	if r.Sign() > 0 {
		return r.String(), false
	}
	return p.smallest(p.MinQuantity, p.QuantityDecimals).String(), true
}

// FormatPrice renders price with at most PriceDecimals decimals, trimming
// trailing zeros but keeping at least MinPriceDecimals.
func (p Precision) FormatPrice(price decimal.Decimal) (string, bool) {
	r := price.Round(p.PriceDecimals)
	substituted := false
	if r.Sign() <= 0 {
		r = p.smallest(decimal.Zero, p.PriceDecimals)
		substituted = true
	}
	s := r.String()
	places := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		places = len(s) - i - 1
	}
	if int32(places) < p.MinPriceDecimals {
		s = r.StringFixed(p.MinPriceDecimals)
	}
	return s, substituted
}

func (p Precision) smallest(min decimal.Decimal, decimals int32) decimal.Decimal {
	if min.Sign() > 0 {
		return min
	}
	return decimal.New(1, -decimals)
}
