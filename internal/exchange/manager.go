package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Manager is the registry of the adapters taking part in a run.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]venue.Adapter
	order    []string
	logger   *logrus.Entry
}

// NewManager creates a new adapter manager
func NewManager() *Manager {
	return &Manager{
		adapters: make(map[string]venue.Adapter),
		logger:   logrus.WithField("component", "manager"),
	}
}

// AddAdapter registers an adapter under its name.
func (m *Manager) AddAdapter(adapter venue.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := adapter.Name()
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("adapter %s already exists", name)
	}
	m.adapters[name] = adapter
	m.order = append(m.order, name)
	return nil
}

// GetAdapter gets an adapter by name
func (m *Manager) GetAdapter(name string) (venue.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adapter, exists := m.adapters[name]
	if !exists {
		return nil, fmt.Errorf("adapter %s not found", name)
	}
	return adapter, nil
}

// Adapters returns the registered adapters in registration order.
func (m *Manager) Adapters() []venue.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]venue.Adapter, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.adapters[name])
	}
	return out
}

// ListAdapters returns the registered names in registration order.
func (m *Manager) ListAdapters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// RemoveAdapter removes an adapter from the registry.
func (m *Manager) RemoveAdapter(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.adapters[name]; !exists {
		return fmt.Errorf("adapter %s not found", name)
	}
	delete(m.adapters, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// StartAll starts every adapter concurrently. Adapters that fail to start
// are closed and removed; their errors are returned by name.
func (m *Manager) StartAll(ctx context.Context) map[string]error {
	adapters := m.Adapters()

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			if err := a.Start(ctx); err != nil {
				mu.Lock()
				failures[a.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for name, err := range failures {
		m.logger.WithError(err).WithField("venue", name).Error("venue failed to start; excluded from run")
		if a, getErr := m.GetAdapter(name); getErr == nil {
			a.Close(ctx)
		}
		_ = m.RemoveAdapter(name)
	}
	return failures
}

// ConnectionStates reports the state of every adapter with a persistent
// connection.
func (m *Manager) ConnectionStates() map[string]types.ConnectionState {
	states := make(map[string]types.ConnectionState)
	for _, a := range m.Adapters() {
		if r, ok := a.(venue.ConnectionReporter); ok {
			states[a.Name()] = r.ConnectionState()
		}
	}
	return states
}
