package bybit

import (
	"encoding/json"
)

// BaseResponse is the common v5 response envelope.
type BaseResponse struct {
	RetCode    int             `json:"retCode"`
	RetMsg     string          `json:"retMsg"`
	Result     json.RawMessage `json:"result"`
	RetExtInfo json.RawMessage `json:"retExtInfo"`
	Time       int64           `json:"time"`
}

// OrderResult is the result of /v5/order/create and /v5/order/cancel.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// Order is one entry of /v5/order/realtime.
type Order struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

// OrderList wraps paged order results.
type OrderList struct {
	Category string  `json:"category"`
	List     []Order `json:"list"`
}
