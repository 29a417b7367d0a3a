package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{
			name:  "probe",
			event: events.Event{Kind: events.KindProbe, Venue: "binance-ws", Operation: types.OpPlaceOrder},
			want:  "latency.binance-ws.probe.place_order",
		},
		{
			name:  "connection without operation",
			event: events.Event{Kind: events.KindConnection, Venue: "binance-ws"},
			want:  "latency.binance-ws.connection.none",
		},
		{
			name:  "dots sanitized",
			event: events.Event{Kind: events.KindCleanup, Venue: "venue.v2"},
			want:  "latency.venue_v2.cleanup.none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventSubject("", tt.event))
		})
	}
}

func TestParseSubject(t *testing.T) {
	venue, kind, op, ok := ParseSubject("latency.bybit-rest.probe.cancel_order")
	assert.True(t, ok)
	assert.Equal(t, "bybit-rest", venue)
	assert.Equal(t, "probe", kind)
	assert.Equal(t, "cancel_order", op)

	_, _, _, ok = ParseSubject("latency.bybit-rest")
	assert.False(t, ok)
	assert.Equal(t, "probes.>", StreamSubjects("probes"))
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage(events.Event{Kind: events.KindProbe, Latency: 1500 * time.Microsecond})
	assert.InDelta(t, 1.5, msg.LatencyMs, 1e-9)
	assert.Equal(t, "probe", msg.Kind)
}
