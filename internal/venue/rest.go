package venue

import (
	"context"
	"sync"

	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/pkg/types"
)

// RestAdapter probes a venue over independent per-call requests. There is
// no connection to supervise, so the prober runs unguarded.
type RestAdapter struct {
	prober *Prober

	closeOnce sync.Once
	stranded  []types.OpenOrder
}

func NewRestAdapter(p *Prober) *RestAdapter {
	return &RestAdapter{prober: p}
}

func (a *RestAdapter) Name() string                { return a.prober.Name() }
func (a *RestAdapter) Start(context.Context) error { return nil }
func (a *RestAdapter) Stats() *stats.Recorder      { return a.prober.Stats() }
func (a *RestAdapter) Ledger() *ledger.Ledger      { return a.prober.Ledger() }
func (a *RestAdapter) Prober() *Prober             { return a.prober }

func (a *RestAdapter) ProbeMarketData(ctx context.Context) error {
	return a.prober.ProbeMarketData(ctx)
}

func (a *RestAdapter) PlaceProbeOrder(ctx context.Context) error {
	return a.prober.PlaceProbeOrder(ctx)
}

func (a *RestAdapter) CancelOrder(ctx context.Context, id string) error {
	return a.prober.CancelOrder(ctx, id)
}

func (a *RestAdapter) CleanupOpenOrders(ctx context.Context) []types.OpenOrder {
	return a.prober.CleanupOpenOrders(ctx)
}

func (a *RestAdapter) Close(ctx context.Context) []types.OpenOrder {
	a.closeOnce.Do(func() {
		a.stranded = a.CleanupOpenOrders(ctx)
		if err := closeTransports(a.prober.transport, a.prober.fallback); err != nil {
			a.prober.logger.WithError(err).Warn("transport close failed")
		}
	})
	return a.stranded
}
