package exchange

import (
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/config"
	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

// precision converts a configured table into venue formatting rules.
func precision(p config.PrecisionConfig) venue.Precision {
	var tick venue.TickRule = venue.FixedTick{Size: p.TickLow}
	if p.TickThreshold.IsPositive() {
		tick = venue.TieredTick{Threshold: p.TickThreshold, High: p.TickHigh, Low: p.TickLow}
	}
	return venue.Precision{
		Tick:             tick,
		QuantityDecimals: p.QuantityDecimals,
		PriceDecimals:    p.PriceDecimals,
		MinPriceDecimals: p.MinPriceDecimals,
		MinQuantity:      p.MinQuantity,
	}
}

// proberConfig applies the shared order sizing to one venue trading symbol.
func proberConfig(cfg *config.Config, kind types.VenueKind, symbol string, p config.PrecisionConfig) venue.ProberConfig {
	pc := venue.DefaultProberConfig(string(kind), symbol)
	pc.OrderSize = cfg.OrderSize
	pc.MarketOffset = cfg.MarketOffset
	pc.Precision = precision(p)
	if cfg.CallTimeout > 0 {
		pc.CallTimeout = cfg.CallTimeout
	}
	return pc
}

func venueLogger(kind types.VenueKind) *logrus.Entry {
	return logrus.WithField("exchange", string(kind))
}

func proberOptions(kind types.VenueKind, sink events.Sink, extra ...venue.ProberOption) []venue.ProberOption {
	return append([]venue.ProberOption{
		venue.WithLogger(venueLogger(kind)),
		venue.WithSink(sink),
	}, extra...)
}
