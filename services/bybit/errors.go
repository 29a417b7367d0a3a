package bybit

import (
	"strings"

	"github.com/mExOms/venueprobe/pkg/types"
)

const venueName = "bybit"

// Bybit v5 retCodes the probe cares about.
const (
	codeServerTimeout       = 10000
	codeOrderNotExists      = 110001
	codeInsufficientBalance = 110007
	codeSpotInsufficient    = 170131
	codeSpotOrderNotExists  = 170213
	codeQtyPrecision        = 170134
	codePricePrecision      = 170137
	codeOrderPriceTooHigh   = 170136
	codeOrderValueTooLow    = 170140
)

// rejection maps a retCode and retMsg onto a RejectedError.
func rejection(code int, msg string) *types.RejectedError {
	reason := types.RejectOther
	lower := strings.ToLower(msg)

	switch {
	case code == codeOrderNotExists || code == codeSpotOrderNotExists ||
		strings.Contains(lower, "order not exists") || strings.Contains(lower, "does not exist"):
		reason = types.RejectNotFound
	case code == codeSpotInsufficient || code == codeInsufficientBalance || strings.Contains(lower, "insufficient"):
		reason = types.RejectInsufficientFunds
	case code == codeQtyPrecision || code == codePricePrecision || strings.Contains(lower, "decimal"):
		reason = types.RejectPrecision
	case code == codeOrderPriceTooHigh || code == codeOrderValueTooLow:
		reason = types.RejectFilter
	case code == codeServerTimeout:
		reason = types.RejectTimeout
	}

	return &types.RejectedError{Venue: venueName, Code: int64(code), Reason: reason, Message: msg}
}
