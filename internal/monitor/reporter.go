package monitor

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/venue"
)

// Reporter writes every venue's summary into the log stream on a cron schedule.
type Reporter struct {
	cron     *cron.Cron
	adapters []venue.Adapter
	logger   *logrus.Entry
}

// NewReporter parses schedule (standard cron or descriptors such as
// "@every 1m").
func NewReporter(schedule string, adapters []venue.Adapter) (*Reporter, error) {
	r := &Reporter{
		cron:     cron.New(),
		adapters: adapters,
		logger:   logrus.WithField("component", "reporter"),
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running report to finish.
func (r *Reporter) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Report logs one line per venue, operation and series.
func (r *Reporter) Report() {
	for _, row := range Rows(r.adapters) {
		fields := logrus.Fields{
			"venue":        row.Venue,
			"operation":    row.Operation,
			"series":       row.Series,
			"count":        row.Stats.Count,
			"failures":     row.Failures,
			"total":        row.Total,
			"failure_rate": row.FailureRate,
		}
		if row.Stats.Valid {
			fields["min"] = row.Stats.Min
			fields["max"] = row.Stats.Max
			fields["mean"] = row.Stats.Mean
			fields["median"] = row.Stats.Median
			fields["stddev"] = row.Stats.StdDev
			fields["p95"] = row.Stats.P95
			fields["p99"] = row.Stats.P99
		}
		r.logger.WithFields(fields).Info("Latency report")
	}
}
