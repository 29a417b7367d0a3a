// Package ledger tracks probe orders a venue accepted and that have not yet
// been confirmed cancelled.
package ledger

import (
	"sync"

	"github.com/mExOms/venueprobe/pkg/types"
)

// Ledger is the ordered open-order list of a single adapter.
type Ledger struct {
	mu     sync.Mutex
	orders []types.OpenOrder
}

func New() *Ledger {
	return &Ledger{}
}

// Add appends an order. Re-adding a known id is ignored.
func (l *Ledger) Add(o types.OpenOrder) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.orders {
		if existing.ID == o.ID {
			return false
		}
	}
	l.orders = append(l.orders, o)
	return true
}

// Remove deletes an order by id and reports whether it was present.
func (l *Ledger) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the order with the given id.
func (l *Ledger) Get(id string) (types.OpenOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.ID == id {
			return o, true
		}
	}
	return types.OpenOrder{}, false
}

func (l *Ledger) Contains(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// List returns a copy in insertion order.
func (l *Ledger) List() []types.OpenOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.OpenOrder, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

// RemoveSymbol drops every order on symbol and returns them.
func (l *Ledger) RemoveSymbol(symbol string) []types.OpenOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []types.OpenOrder
	kept := l.orders[:0]
	for _, o := range l.orders {
		if o.Symbol == symbol {
			removed = append(removed, o)
			continue
		}
		kept = append(kept, o)
	}
	l.orders = kept
	return removed
}

// Symbols returns the distinct symbols with open orders, in first-seen order.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range l.orders {
		if !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	return out
}
