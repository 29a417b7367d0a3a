package hyperliquid

import (
	"strings"

	"github.com/mExOms/venueprobe/pkg/types"
)

const venueName = "hyperliquid"

// rejection maps an exchange error message onto a RejectedError. The
// exchange sends no numeric codes, so Code stays zero.
func rejection(msg string) *types.RejectedError {
	reason := types.RejectOther
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "never placed") || strings.Contains(lower, "already canceled") ||
		strings.Contains(lower, "unknown oid"):
		reason = types.RejectNotFound
	case strings.Contains(lower, "insufficient"):
		reason = types.RejectInsufficientFunds
	case strings.Contains(lower, "tick size") || strings.Contains(lower, "divisible") ||
		strings.Contains(lower, "invalid price") || strings.Contains(lower, "significant figures"):
		reason = types.RejectPrecision
	case strings.Contains(lower, "invalid size") || strings.Contains(lower, "minimum value") ||
		strings.Contains(lower, "zero size"):
		reason = types.RejectFilter
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		reason = types.RejectTimeout
	}

	return &types.RejectedError{Venue: venueName, Reason: reason, Message: msg}
}
