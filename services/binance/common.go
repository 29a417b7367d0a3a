// Package binance implements the Binance REST and WebSocket-API transports
// used by the binance-rest and binance-ws adapters.
package binance

import (
	"errors"

	"github.com/adshao/go-binance/v2"
	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/sirupsen/logrus"
)

const venueName = "binance"

// ConvertSide converts an order side to binance.SideType.
func ConvertSide(side string) binance.SideType {
	switch side {
	case types.OrderSideSell:
		return binance.SideTypeSell
	default:
		return binance.SideTypeBuy
	}
}

// logPrecision logs the order parameters that a venue refused for precision
// or filter reasons so the precision table can be corrected.
func logPrecision(logger *logrus.Entry, err error, req types.LimitOrderRequest) {
	var rejected *types.RejectedError
	if !errors.As(err, &rejected) {
		return
	}
	if rejected.Reason != types.RejectPrecision && rejected.Reason != types.RejectFilter {
		return
	}
	logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"price":    req.Price,
		"quantity": req.Quantity,
		"code":     rejected.Code,
		"reason":   rejected.Reason,
	}).Warn("Order rejected by venue precision rules")
}
