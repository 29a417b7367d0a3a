package nats

import (
	"time"

	"github.com/mExOms/venueprobe/pkg/events"
)

// EventMessage is the wire form of an events.Event.
type EventMessage struct {
	Kind      string                 `json:"kind"`
	Venue     string                 `json:"venue"`
	Operation string                 `json:"operation,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	LatencyMs float64                `json:"latency_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewEventMessage(e events.Event) EventMessage {
	return EventMessage{
		Kind:      string(e.Kind),
		Venue:     e.Venue,
		Operation: string(e.Operation),
		Outcome:   e.Outcome,
		LatencyMs: float64(e.Latency) / float64(time.Millisecond),
		Error:     e.Error,
		Fields:    e.Fields,
		Timestamp: e.Time,
	}
}
