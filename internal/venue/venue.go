// Package venue holds the probe engine shared by every venue adapter and the
// two adapter variants: per-call REST and supervised persistent connections.
package venue

import (
	"context"

	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Adapter is the capability set the scheduler drives.
type Adapter interface {
	Name() string
	// Start prepares the adapter. A persistent adapter connects here.
	Start(ctx context.Context) error
	ProbeMarketData(ctx context.Context) error
	PlaceProbeOrder(ctx context.Context) error
	CancelOrder(ctx context.Context, id string) error
	// CleanupOpenOrders cancels everything still tracked and returns what is left.
	CleanupOpenOrders(ctx context.Context) []types.OpenOrder
	Stats() *stats.Recorder
	Ledger() *ledger.Ledger
	// Close runs cleanup then tears the adapter down. Only the first call has
	// any effect; later calls return the same stranded orders.
	Close(ctx context.Context) []types.OpenOrder
}

// ConnectionReporter is implemented by adapters that own a persistent connection.
type ConnectionReporter interface {
	ConnectionState() types.ConnectionState
}

// Transport is the venue wire capability an adapter is built on.
type Transport interface {
	// FetchOrderbook returns either a *types.Orderbook or a raw payload
	// understood by ExtractBestBidAsk.
	FetchOrderbook(ctx context.Context, symbol string) (any, error)
	SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, id string) error
	// CancelAll may return types.ErrUnsupported.
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error)
	Close() error
}
