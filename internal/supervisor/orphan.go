package supervisor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

// OrderVenue is what reconciliation needs from a venue.
type OrderVenue interface {
	OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error)
	CancelOrder(ctx context.Context, symbol, id string) error
}

// TrackOrphan remembers a placement whose acknowledgement never arrived.
func (s *Supervisor) TrackOrphan(c types.OrphanCandidate) {
	s.mu.Lock()
	s.orphans = append(s.orphans, c)
	n := len(s.orphans)
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"symbol":   c.Symbol,
		"price":    c.Price.String(),
		"quantity": c.Quantity.String(),
		"pending":  n,
	}).Warn("placement timed out, order may exist at venue")
}

// PendingOrphans is the number of unresolved candidates.
func (s *Supervisor) PendingOrphans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orphans)
}

// ReconcileOrphans looks for live venue orders matching the tracked
// candidates within the configured tolerances. Each match is registered in
// l and a cancel is issued for it. Candidates older than the window are
// dropped; a missed orphan is an accepted risk of the heuristic.
// It returns the number of matched orders.
func (s *Supervisor) ReconcileOrphans(ctx context.Context, venue OrderVenue, l *ledger.Ledger) int {
	s.mu.Lock()
	pending := s.orphans
	s.orphans = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return 0
	}

	now := s.now()
	var keep []types.OrphanCandidate
	bySymbol := make(map[string][]types.VenueOrder)
	queried := make(map[string]bool)
	claimed := make(map[string]bool)
	matched := 0

	for _, c := range pending {
		if now.Sub(c.SentAt) > s.cfg.OrphanWindow {
			s.logger.WithField("symbol", c.Symbol).Warn("orphan candidate expired without a match")
			s.publishReconcile(c, "", "expired")
			continue
		}
		if !queried[c.Symbol] {
			qctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
			orders, err := venue.OpenOrders(qctx, c.Symbol)
			cancel()
			if err != nil {
				s.logger.WithError(err).WithField("symbol", c.Symbol).Warn("open orders query failed, will retry")
				keep = append(keep, c)
				continue
			}
			queried[c.Symbol] = true
			bySymbol[c.Symbol] = orders
		}

		order, ok := s.match(c, bySymbol[c.Symbol], claimed, l)
		if !ok {
			keep = append(keep, c)
			continue
		}
		claimed[order.ID] = true
		matched++
		s.adopt(ctx, venue, l, c, order)
	}

	if len(keep) > 0 {
		s.mu.Lock()
		s.orphans = append(keep, s.orphans...)
		s.mu.Unlock()
	}
	return matched
}

func (s *Supervisor) match(c types.OrphanCandidate, orders []types.VenueOrder, claimed map[string]bool, l *ledger.Ledger) (types.VenueOrder, bool) {
	for _, o := range orders {
		if claimed[o.ID] || l.Contains(o.ID) {
			continue
		}
		if o.Side != "" && c.Side != "" && !strings.EqualFold(o.Side, c.Side) {
			continue
		}
		if o.Quantity.Sub(c.Quantity).Abs().GreaterThan(s.cfg.OrphanQuantityTolerance) {
			continue
		}
		if o.Price.Sub(c.Price).Abs().GreaterThan(s.cfg.OrphanPriceTolerance) {
			continue
		}
		if !o.CreatedAt.IsZero() && absDuration(o.CreatedAt.Sub(c.SentAt)) > s.cfg.OrphanWindow {
			continue
		}
		return o, true
	}
	return types.VenueOrder{}, false
}

func (s *Supervisor) adopt(ctx context.Context, venue OrderVenue, l *ledger.Ledger, c types.OrphanCandidate, o types.VenueOrder) {
	l.Add(types.OpenOrder{
		ID:       o.ID,
		Symbol:   o.Symbol,
		Venue:    s.name,
		Price:    o.Price,
		Quantity: o.Quantity,
		PlacedAt: c.SentAt,
	})
	s.logger.WithField("order_id", o.ID).Warn("orphan order found at venue, cancelling")

	cctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	err := venue.CancelOrder(cctx, o.Symbol, o.ID)
	cancel()
	if err == nil || errors.Is(err, types.ErrOrderNotFound) {
		l.Remove(o.ID)
		s.publishReconcile(c, o.ID, events.OutcomeSuccess)
		return
	}
	// stays in the ledger for shutdown cleanup
	s.logger.WithError(err).WithField("order_id", o.ID).Error("orphan cancel failed")
	s.publishReconcile(c, o.ID, events.OutcomeFailure)
}

func (s *Supervisor) publishReconcile(c types.OrphanCandidate, orderID, outcome string) {
	fields := map[string]interface{}{
		"symbol":   c.Symbol,
		"price":    c.Price.String(),
		"quantity": c.Quantity.String(),
		"sent_at":  c.SentAt,
	}
	if orderID != "" {
		fields["order_id"] = orderID
	}
	s.publish(events.Event{
		Kind:      events.KindReconcile,
		Operation: types.OpPlaceOrder,
		Outcome:   outcome,
		Fields:    fields,
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
