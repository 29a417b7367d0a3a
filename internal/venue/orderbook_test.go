package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/venueprobe/pkg/types"
)

func TestExtractBestBidAskShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		bestBid string
		bestAsk string
	}{
		{
			name:    "bids asks strings",
			payload: []byte(`{"lastUpdateId":1,"bids":[["100.1","2"],["100.5","1"]],"asks":[["101","1"],["100.9","3"]]}`),
			bestBid: "100.5",
			bestAsk: "100.9",
		},
		{
			name:    "bybit b a wrapped in result",
			payload: []byte(`{"retCode":0,"result":{"s":"BTCUSDT","b":[["65000.1","0.5"]],"a":[["65000.2","0.1"]]}}`),
			bestBid: "65000.1",
			bestAsk: "65000.2",
		},
		{
			name:    "levels px sz",
			payload: `{"levels":[[{"px":"10","sz":"1","n":1},{"px":"11","sz":"1","n":1}],[{"px":"13","sz":"2","n":1},{"px":"12","sz":"2","n":1}]]}`,
			bestBid: "11",
			bestAsk: "12",
		},
		{
			name:    "flat array with side",
			payload: []byte(`[{"side":"ask","price":5.5,"size":1},{"side":"bid","price":5.1,"qty":2},{"side":"buy","px":"5.2","sz":"1"},{"side":"sell","price":"5.4","quantity":"1"}]`),
			bestBid: "5.2",
			bestAsk: "5.4",
		},
		{
			name:    "parallel arrays",
			payload: map[string]any{"bidPrices": []any{"9", "9.5"}, "bidSizes": []any{"1", "1"}, "askPrices": []any{"10.5", "10"}, "askSizes": []any{"1", "1"}},
			bestBid: "9.5",
			bestAsk: "10",
		},
		{
			name: "canonical orderbook",
			payload: &types.Orderbook{
				Bids: []types.PriceLevel{{Price: d("1"), Quantity: d("1")}},
				Asks: []types.PriceLevel{{Price: d("2"), Quantity: d("1")}},
			},
			bestBid: "1",
			bestAsk: "2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bids, asks := ExtractBestBidAsk(tt.payload)
			require.NotEmpty(t, bids)
			require.NotEmpty(t, asks)
			assert.True(t, bids[0].Price.Equal(d(tt.bestBid)), "bid %s", bids[0].Price)
			assert.True(t, asks[0].Price.Equal(d(tt.bestAsk)), "ask %s", asks[0].Price)
			for i := 1; i < len(bids); i++ {
				assert.True(t, bids[i-1].Price.GreaterThanOrEqual(bids[i].Price))
			}
			for i := 1; i < len(asks); i++ {
				assert.True(t, asks[i-1].Price.LessThanOrEqual(asks[i].Price))
			}
		})
	}
}

func TestExtractBestBidAskUnrecognized(t *testing.T) {
	for name, payload := range map[string]any{
		"nil":          nil,
		"garbage":      []byte(`not json`),
		"unknown keys": []byte(`{"foo":1}`),
		"one side":     []byte(`{"bids":[["1","1"]],"asks":[]}`),
		"number":       42,
	} {
		t.Run(name, func(t *testing.T) {
			bids, asks := ExtractBestBidAsk(payload)
			assert.Nil(t, bids)
			assert.Nil(t, asks)
		})
	}
}

func TestPayloadShape(t *testing.T) {
	assert.Equal(t, "object{a,b}", PayloadShape([]byte(`{"b":1,"a":2}`)))
	assert.Equal(t, "array[2]", PayloadShape([]any{1, 2}))
	assert.Equal(t, "null", PayloadShape([]byte(`broken`)))
}
