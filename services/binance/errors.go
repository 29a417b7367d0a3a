package binance

import (
	"errors"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Binance error codes the probe cares about.
const (
	codeTimeout           = -1007
	codeBadPrecision      = -1111
	codeFilterFailure     = -1013
	codeNewOrderRejected  = -2010
	codeCancelRejected    = -2011
	codeNoSuchOrder       = -2013
	codeUnknownOrderState = -2026
)

// rejection maps a Binance code and message onto a RejectedError.
func rejection(venue string, code int64, msg string) *types.RejectedError {
	reason := types.RejectOther
	lower := strings.ToLower(msg)

	switch {
	case code == codeCancelRejected || code == codeNoSuchOrder || code == codeUnknownOrderState ||
		strings.Contains(lower, "unknown order"):
		reason = types.RejectNotFound
	case code == codeBadPrecision || strings.Contains(lower, "precision"):
		reason = types.RejectPrecision
	case code == codeFilterFailure || strings.Contains(lower, "filter"):
		reason = types.RejectFilter
	case code == codeTimeout:
		reason = types.RejectTimeout
	case code == codeNewOrderRejected || strings.Contains(lower, "insufficient"):
		reason = types.RejectInsufficientFunds
	}

	return &types.RejectedError{Venue: venue, Code: code, Reason: reason, Message: msg}
}

// mapError converts go-binance API errors to the shared taxonomy and leaves
// transport errors untouched.
func mapError(venue string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return rejection(venue, apiErr.Code, apiErr.Message)
	}
	return err
}
