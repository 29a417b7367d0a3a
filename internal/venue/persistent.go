package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/internal/supervisor"
	"github.com/mExOms/venueprobe/pkg/types"
)

// PersistentTransport is a Transport running over one long-lived connection.
type PersistentTransport interface {
	Transport
	Dial(ctx context.Context) error
	Ping(ctx context.Context) error
}

// PersistentAdapter routes every probe through a connection supervisor.
// Placements that time out are handed to the supervisor as orphan
// candidates and reconciled once the guarded call returns.
type PersistentAdapter struct {
	prober    *Prober
	transport PersistentTransport
	sup       *supervisor.Supervisor

	closeOnce sync.Once
	stranded  []types.OpenOrder
}

func NewPersistentAdapter(p *Prober, transport PersistentTransport, sup *supervisor.Supervisor) *PersistentAdapter {
	a := &PersistentAdapter{prober: p, transport: transport, sup: sup}
	p.OnPlacementTimeout(sup.TrackOrphan)
	sup.OnRecovered(func(ctx context.Context) {
		if sup.PendingOrphans() > 0 {
			sup.ReconcileOrphans(ctx, transport, p.Ledger())
		}
	})
	return a
}

func (a *PersistentAdapter) Name() string                       { return a.prober.Name() }
func (a *PersistentAdapter) Stats() *stats.Recorder             { return a.prober.Stats() }
func (a *PersistentAdapter) Ledger() *ledger.Ledger             { return a.prober.Ledger() }
func (a *PersistentAdapter) Prober() *Prober                    { return a.prober }
func (a *PersistentAdapter) Supervisor() *supervisor.Supervisor { return a.sup }

func (a *PersistentAdapter) ConnectionState() types.ConnectionState {
	return a.sup.State()
}

// Start connects. A venue that cannot connect is reported as failed.
func (a *PersistentAdapter) Start(ctx context.Context) error {
	if !a.sup.Connect(ctx) {
		return fmt.Errorf("%s: %w", a.Name(), types.ErrConnectionClosed)
	}
	return nil
}

func (a *PersistentAdapter) ProbeMarketData(ctx context.Context) error {
	return a.sup.Execute(ctx, string(types.OpMarketData), a.prober.ProbeMarketData)
}

func (a *PersistentAdapter) PlaceProbeOrder(ctx context.Context) error {
	if _, ok := a.prober.MidPrice(); !ok {
		if err := a.ProbeMarketData(ctx); err != nil {
			return err
		}
	}

	var id string
	err := a.sup.Execute(ctx, string(types.OpPlaceOrder), func(ctx context.Context) error {
		var err error
		id, err = a.prober.SubmitProbeOrder(ctx)
		return err
	})
	a.sup.ReconcileOrphans(ctx, a.reconcileVenue(), a.prober.Ledger())
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	return a.CancelOrder(ctx, id)
}

func (a *PersistentAdapter) CancelOrder(ctx context.Context, id string) error {
	if !a.prober.Ledger().Contains(id) {
		return nil
	}
	return a.sup.Execute(ctx, string(types.OpCancelOrder), func(ctx context.Context) error {
		return a.prober.CancelOrder(ctx, id)
	})
}

// CleanupOpenOrders reconciles pending orphans first so they are included.
func (a *PersistentAdapter) CleanupOpenOrders(ctx context.Context) []types.OpenOrder {
	if a.sup.PendingOrphans() > 0 {
		a.sup.ReconcileOrphans(ctx, a.reconcileVenue(), a.prober.Ledger())
	}
	return a.prober.CleanupOpenOrders(ctx)
}

// reconcileVenue prefers the fallback transport when the connection is down.
func (a *PersistentAdapter) reconcileVenue() supervisor.OrderVenue {
	if !a.sup.IsConnected() && a.prober.fallback != nil {
		return a.prober.fallback
	}
	return a.transport
}

func (a *PersistentAdapter) Close(ctx context.Context) []types.OpenOrder {
	a.closeOnce.Do(func() {
		a.stranded = a.CleanupOpenOrders(ctx)
		if err := closeTransports(a.prober.fallback); err != nil {
			a.prober.logger.WithError(err).Warn("fallback close failed")
		}
		if err := a.sup.Close(); err != nil {
			a.prober.logger.WithError(err).Warn("connection close failed")
		}
	})
	return a.stranded
}
