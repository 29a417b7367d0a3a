package venue

import (
	"context"
	"sync"

	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/pkg/types"
)

// fakeTransport scripts venue answers for the probe engine.
type fakeTransport struct {
	mu sync.Mutex

	book      any
	bookErr   error
	submitErr error
	nextID    int
	cancelErr map[string]error
	cancelAll error
	open      []types.VenueOrder

	submitted []types.LimitOrderRequest
	cancelled []string
	bulk      []string
	closed    int
	pings     int
	dials     int
	pingErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		book:      []byte(`{"bids":[["60000.00","1"]],"asks":[["60010.00","1"]]}`),
		cancelErr: map[string]error{},
		cancelAll: types.ErrUnsupported,
	}
}

func (f *fakeTransport) FetchOrderbook(ctx context.Context, symbol string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, f.bookErr
}

func (f *fakeTransport) SubmitLimitOrder(ctx context.Context, req types.LimitOrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	return "ord-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeTransport) CancelOrder(ctx context.Context, symbol, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr[id]
}

func (f *fakeTransport) CancelAll(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, symbol)
	return f.cancelAll
}

func (f *fakeTransport) OpenOrders(ctx context.Context, symbol string) ([]types.VenueOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.VenueOrder(nil), f.open...), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

// counters builds the expected stats counters.
func counters(failures, total int64) stats.Counters {
	return stats.Counters{Failures: failures, Total: total}
}
