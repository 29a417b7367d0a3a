package hyperliquid

import (
	"encoding/json"
)

// infoRequest is the body of a POST /info call.
type infoRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
}

// Action field order is part of the signed payload: msgpack encodes struct
// fields in declaration order.

type limitType struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type orderType struct {
	Limit limitType `msgpack:"limit" json:"limit"`
}

type orderWire struct {
	Asset      int       `msgpack:"a" json:"a"`
	IsBuy      bool      `msgpack:"b" json:"b"`
	Price      string    `msgpack:"p" json:"p"`
	Size       string    `msgpack:"s" json:"s"`
	ReduceOnly bool      `msgpack:"r" json:"r"`
	Type       orderType `msgpack:"t" json:"t"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type cancelWire struct {
	Asset int   `msgpack:"a" json:"a"`
	OID   int64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

// Signature is an ECDSA signature in the r, s, v form the exchange expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// ExchangeRequest is a signed action, the body of POST /exchange.
type ExchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// exchangeResponse is the /exchange envelope. With status "err" the response
// is a plain string.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type exchangeData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		OID int64 `json:"oid"`
	} `json:"filled"`
	Error string `json:"error"`
}

type assetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

type meta struct {
	Universe []assetMeta `json:"universe"`
}

type openOrder struct {
	Coin      string `json:"coin"`
	LimitPx   string `json:"limitPx"`
	OID       int64  `json:"oid"`
	Side      string `json:"side"`
	Size      string `json:"sz"`
	Timestamp int64  `json:"timestamp"`
}
