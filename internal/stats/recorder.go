// Package stats accumulates probe latencies per operation kind and reduces
// them to aggregate statistics.
package stats

import (
	"sync"
	"time"

	"github.com/mExOms/venueprobe/pkg/types"
)

// Counters is the failure/total pair for one operation kind.
type Counters struct {
	Failures int64 `json:"failures"`
	Total    int64 `json:"total"`
}

// FailureRate returns failures / max(total, 1) * 100.
func (c Counters) FailureRate() float64 {
	total := c.Total
	if total < 1 {
		total = 1
	}
	return float64(c.Failures) / float64(total) * 100
}

// Recorder holds the success and all-attempts series of one adapter.
// A mutex per adapter guards it; adapters never share a Recorder.
type Recorder struct {
	mu       sync.Mutex
	success  map[types.Operation][]float64
	total    map[types.Operation][]float64
	counters map[types.Operation]*Counters
}

func NewRecorder() *Recorder {
	r := &Recorder{
		success:  make(map[types.Operation][]float64),
		total:    make(map[types.Operation][]float64),
		counters: make(map[types.Operation]*Counters),
	}
	for _, op := range types.Operations {
		r.counters[op] = &Counters{}
	}
	return r
}

func (r *Recorder) counter(op types.Operation) *Counters {
	c, ok := r.counters[op]
	if !ok {
		c = &Counters{}
		r.counters[op] = c
	}
	return c
}

// RecordSuccess appends a success sample and counts one attempt.
func (r *Recorder) RecordSuccess(op types.Operation, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success[op] = append(r.success[op], elapsed.Seconds())
	r.counter(op).Total++
}

// RecordTotal appends to the all-attempts series. Called for every attempt.
func (r *Recorder) RecordTotal(op types.Operation, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total[op] = append(r.total[op], elapsed.Seconds())
}

// RecordFailure counts one failed attempt.
func (r *Recorder) RecordFailure(op types.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(op)
	c.Failures++
	c.Total++
}

// OperationSnapshot is a copy of one operation's data.
type OperationSnapshot struct {
	Operation types.Operation `json:"operation"`
	Success   []float64       `json:"-"`
	Total     []float64       `json:"-"`
	Counters  Counters        `json:"counters"`
}

// SuccessStats aggregates the success-only series.
func (s OperationSnapshot) SuccessStats() Stats { return Compute(s.Success) }

// TotalStats aggregates the all-attempts series.
func (s OperationSnapshot) TotalStats() Stats { return Compute(s.Total) }

// Snapshot copies every operation's series and counters, in display order.
func (r *Recorder) Snapshot() []OperationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OperationSnapshot, 0, len(types.Operations))
	for _, op := range types.Operations {
		out = append(out, OperationSnapshot{
			Operation: op,
			Success:   append([]float64(nil), r.success[op]...),
			Total:     append([]float64(nil), r.total[op]...),
			Counters:  *r.counter(op),
		})
	}
	return out
}

// Counters returns the counters for one operation.
func (r *Recorder) Counters(op types.Operation) Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.counter(op)
}

// SeriesLen returns len(success) and len(total) for one operation.
func (r *Recorder) SeriesLen(op types.Operation) (success, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.success[op]), len(r.total[op])
}
