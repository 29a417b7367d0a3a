package venue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mExOms/venueprobe/pkg/types"
)

// ExtractBestBidAsk normalizes an orderbook payload into bids sorted by
// descending price and asks sorted by ascending price.
//
// Accepted inputs are *types.Orderbook, raw JSON ([]byte, json.RawMessage,
// string) and decoded JSON values. Recognized shapes:
//
//	{"bids": [[p, s]], "asks": [[p, s]]}
//	{"b": [[p, s]], "a": [[p, s]]}
//	{"levels": [[{"px", "sz"}], [{"px", "sz"}]]}
//	[{"side": "bid", "price": p, "size": s}, ...]
//	{"bidPrices": [], "bidSizes": [], "askPrices": [], "askSizes": []}
//
// and any of those wrapped in "result" or "data". Anything else, or a book
// missing one side, yields (nil, nil).
func ExtractBestBidAsk(payload any) ([]types.PriceLevel, []types.PriceLevel) {
	bids, asks := extract(payload, 0)
	if len(bids) == 0 || len(asks) == 0 {
		return nil, nil
	}
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	return bids, asks
}

// PayloadShape describes a payload for malformed-response diagnostics.
func PayloadShape(payload any) string {
	switch v := decodeRaw(payload).(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "object{" + strings.Join(keys, ",") + "}"
	case []any:
		return fmt.Sprintf("array[%d]", len(v))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

const maxWrapDepth = 3

func extract(payload any, depth int) ([]types.PriceLevel, []types.PriceLevel) {
	if depth > maxWrapDepth {
		return nil, nil
	}
	switch v := payload.(type) {
	case *types.Orderbook:
		if v == nil {
			return nil, nil
		}
		return append([]types.PriceLevel(nil), v.Bids...), append([]types.PriceLevel(nil), v.Asks...)
	case types.Orderbook:
		return extract(&v, depth)
	case []byte, json.RawMessage, string:
		decoded := decodeRaw(v)
		if decoded == nil {
			return nil, nil
		}
		return extract(decoded, depth)
	case map[string]any:
		return extractObject(v, depth)
	case []any:
		return extractFlat(v)
	}
	return nil, nil
}

func decodeRaw(payload any) any {
	var raw []byte
	switch v := payload.(type) {
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return payload
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func extractObject(m map[string]any, depth int) ([]types.PriceLevel, []types.PriceLevel) {
	if b, ok := m["bids"]; ok {
		if a, ok := m["asks"]; ok {
			return parseLevels(b), parseLevels(a)
		}
	}
	if b, ok := m["b"]; ok {
		if a, ok := m["a"]; ok {
			return parseLevels(b), parseLevels(a)
		}
	}
	if lv, ok := m["levels"].([]any); ok && len(lv) == 2 {
		return parseLevels(lv[0]), parseLevels(lv[1])
	}
	if _, ok := m["bidPrices"]; ok {
		return parallel(m["bidPrices"], m["bidSizes"]), parallel(m["askPrices"], m["askSizes"])
	}
	for _, key := range []string{"result", "data"} {
		if inner, ok := m[key]; ok {
			return extract(inner, depth+1)
		}
	}
	return nil, nil
}

// extractFlat handles a single array of levels tagged with a side.
func extractFlat(items []any) ([]types.PriceLevel, []types.PriceLevel) {
	var bids, asks []types.PriceLevel
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, nil
		}
		side, _ := m["side"].(string)
		level, ok := levelFromObject(m)
		if !ok {
			continue
		}
		switch strings.ToLower(side) {
		case "bid", "buy", "b":
			bids = append(bids, level)
		case "ask", "sell", "a", "s":
			asks = append(asks, level)
		}
	}
	return bids, asks
}

func parseLevels(v any) []types.PriceLevel {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	levels := make([]types.PriceLevel, 0, len(items))
	for _, item := range items {
		var (
			level types.PriceLevel
			ok    bool
		)
		switch lv := item.(type) {
		case []any:
			level, ok = levelFromPair(lv)
		case map[string]any:
			level, ok = levelFromObject(lv)
		}
		if ok {
			levels = append(levels, level)
		}
	}
	return levels
}

func levelFromPair(pair []any) (types.PriceLevel, bool) {
	if len(pair) < 2 {
		return types.PriceLevel{}, false
	}
	price, ok := toDecimal(pair[0])
	if !ok || price.Sign() <= 0 {
		return types.PriceLevel{}, false
	}
	size, ok := toDecimal(pair[1])
	if !ok {
		return types.PriceLevel{}, false
	}
	return types.PriceLevel{Price: price, Quantity: size}, true
}

func levelFromObject(m map[string]any) (types.PriceLevel, bool) {
	price, ok := firstDecimal(m, "px", "price", "p")
	if !ok || price.Sign() <= 0 {
		return types.PriceLevel{}, false
	}
	size, ok := firstDecimal(m, "sz", "size", "qty", "quantity", "q")
	if !ok {
		return types.PriceLevel{}, false
	}
	return types.PriceLevel{Price: price, Quantity: size}, true
}

func parallel(prices, sizes any) []types.PriceLevel {
	ps, ok1 := prices.([]any)
	ss, ok2 := sizes.([]any)
	if !ok1 || !ok2 {
		return nil
	}
	n := len(ps)
	if len(ss) < n {
		n = len(ss)
	}
	levels := make([]types.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		if level, ok := levelFromPair([]any{ps[i], ss[i]}); ok {
			levels = append(levels, level)
		}
	}
	return levels
}

func firstDecimal(m map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return toDecimal(v)
		}
	}
	return decimal.Zero, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case decimal.Decimal:
		return n, true
	}
	return decimal.Zero, false
}
