// Package events carries the structured record of everything the probe engine
// does: probe outcomes, connection transitions, reconciliation and cleanup.
package events

import (
	"sync"
	"time"

	"github.com/mExOms/venueprobe/pkg/types"
)

// Kind groups events by the subsystem that emitted them.
type Kind string

const (
	KindProbe      Kind = "probe"
	KindConnection Kind = "connection"
	KindReconcile  Kind = "reconcile"
	KindCleanup    Kind = "cleanup"
)

// Outcome values used across kinds.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
	OutcomeStranded = "stranded"
)

// Event is one structured entry in the log stream.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Venue     string                 `json:"venue"`
	Operation types.Operation        `json:"operation,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	Latency   time.Duration          `json:"latency_ns,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Time      time.Time              `json:"time"`
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi struct {
	sinks []Sink
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	m := &multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *multi) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range m.sinks {
		s.Publish(e)
	}
}

// Recorder keeps every event in memory. Used by tests and the status endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns recorded events of the given kind.
func (r *Recorder) Filter(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
