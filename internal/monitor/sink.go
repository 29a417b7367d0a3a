package monitor

import (
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/pkg/events"
)

// LogSink writes every event to logger as one structured line. Failures log
// at warn, stranded orders at error and routine successes at debug.
func LogSink(logger *logrus.Entry) events.Sink {
	return events.SinkFunc(func(e events.Event) {
		fields := logrus.Fields{
			"event":   string(e.Kind),
			"venue":   e.Venue,
			"outcome": e.Outcome,
		}
		if e.Operation != "" {
			fields["operation"] = string(e.Operation)
		}
		if e.Latency > 0 {
			fields["latency_ms"] = float64(e.Latency.Microseconds()) / 1000
		}
		if e.Error != "" {
			fields["error"] = e.Error
		}
		for k, v := range e.Fields {
			if _, taken := fields[k]; !taken {
				fields[k] = v
			}
		}
		entry := logger.WithFields(fields)
		if !e.Time.IsZero() {
			entry = entry.WithTime(e.Time)
		}

		msg := string(e.Kind) + " " + e.Outcome
		switch {
		case e.Outcome == events.OutcomeStranded:
			entry.Error(msg)
		case e.Outcome == events.OutcomeFailure:
			entry.Warn(msg)
		case e.Kind == events.KindProbe && e.Outcome != events.OutcomeNotFound:
			entry.Debug(msg)
		default:
			entry.Info(msg)
		}
	})
}
