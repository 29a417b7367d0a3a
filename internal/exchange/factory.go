// Package exchange turns configuration into venue adapters and keeps the
// registry of the adapters taking part in a run.
package exchange

import (
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/config"
	"github.com/mExOms/venueprobe/internal/supervisor"
	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
	"github.com/mExOms/venueprobe/services/binance"
	"github.com/mExOms/venueprobe/services/bybit"
	"github.com/mExOms/venueprobe/services/hyperliquid"
)

// Factory creates adapter instances
type Factory struct {
	cfg    *config.Config
	sink   events.Sink
	logger *logrus.Entry
}

// NewFactory creates a new adapter factory
func NewFactory(cfg *config.Config, sink events.Sink) *Factory {
	if sink == nil {
		sink = events.Discard
	}
	return &Factory{
		cfg:    cfg,
		sink:   sink,
		logger: logrus.WithField("component", "factory"),
	}
}

// CreateAdapters builds every venue that is configured. A venue with
// missing credentials or switched off is left out.
func (f *Factory) CreateAdapters() []venue.Adapter {
	var adapters []venue.Adapter

	if f.cfg.HasBinanceCredentials() {
		if f.cfg.Binance.EnableREST {
			adapters = append(adapters, f.CreateAdapter(types.VenueBinanceREST))
		}
		switch {
		case !f.cfg.Binance.EnableWS:
		case f.cfg.Binance.AccountMode == types.AccountModeMargin:
			f.logger.WithField("venue", types.VenueBinanceWS).
				Warn("WebSocket API does not place margin orders; venue skipped")
		default:
			adapters = append(adapters, f.CreateAdapter(types.VenueBinanceWS))
		}
	} else {
		f.logger.Info("Binance credentials not set; Binance venues skipped")
	}

	if f.cfg.HasBybitCredentials() {
		adapters = append(adapters, f.CreateAdapter(types.VenueBybitREST))
	} else {
		f.logger.Info("Bybit credentials not set; Bybit venue skipped")
	}

	if f.cfg.HasHyperliquidCredentials() {
		if f.cfg.Hyperliquid.EnableREST {
			adapters = appendAdapter(adapters, f.CreateAdapter(types.VenueHyperliquidREST))
		}
		if f.cfg.Hyperliquid.EnableWS {
			adapters = appendAdapter(adapters, f.CreateAdapter(types.VenueHyperliquidWS))
		}
	} else {
		f.logger.Info("Hyperliquid wallet not set; Hyperliquid venues skipped")
	}

	return adapters
}

// appendAdapter skips adapters that could not be built.
func appendAdapter(adapters []venue.Adapter, a venue.Adapter) []venue.Adapter {
	if a == nil {
		return adapters
	}
	return append(adapters, a)
}

// CreateAdapter creates the adapter for kind. It returns nil for an unknown kind.
func (f *Factory) CreateAdapter(kind types.VenueKind) venue.Adapter {
	switch kind {
	case types.VenueBinanceREST:
		rest := f.binanceREST()
		p := venue.NewProber(proberConfig(f.cfg, kind, f.cfg.Symbol, f.cfg.Binance.Precision), rest,
			proberOptions(kind, f.sink)...)
		return venue.NewRestAdapter(p)

	case types.VenueBinanceWS:
		ws := binance.NewWSTransport(types.WebSocketConfig{
			URL:              f.cfg.Binance.WSURL,
			APIKey:           f.cfg.Binance.APIKey,
			SecretKey:        f.cfg.Binance.SecretKey,
			HandshakeTimeout: f.cfg.Supervisor.DialTimeout,
			MessageTimeout:   f.cfg.CallTimeout,
		})
		fallback := f.binanceREST()
		p := venue.NewProber(proberConfig(f.cfg, kind, f.cfg.Symbol, f.cfg.Binance.Precision), ws,
			proberOptions(kind, f.sink,
				venue.WithFallbackTransport(fallback),
				venue.WithFallbackPrice(fallback.FallbackPrice(f.cfg.Symbol)),
			)...)
		sup := supervisor.New(string(kind), ws, f.cfg.Supervisor,
			supervisor.WithSink(f.sink),
			supervisor.WithLogger(venueLogger(kind).WithField("component", "supervisor")),
		)
		return venue.NewPersistentAdapter(p, ws, sup)

	case types.VenueBybitREST:
		client := bybit.NewClient(bybit.Config{
			APIKey:            f.cfg.Bybit.APIKey,
			SecretKey:         f.cfg.Bybit.SecretKey,
			Testnet:           f.cfg.Bybit.Testnet,
			BaseURL:           f.cfg.Bybit.BaseURL,
			Timeout:           f.cfg.CallTimeout,
			RequestsPerSecond: f.cfg.Bybit.RequestsPerSecond,
		})
		transport := bybit.NewTransport(client, f.cfg.Bybit.AccountMode)
		p := venue.NewProber(proberConfig(f.cfg, kind, f.cfg.Symbol, f.cfg.Bybit.Precision), transport,
			proberOptions(kind, f.sink)...)
		return venue.NewRestAdapter(p)

	case types.VenueHyperliquidREST:
		signer, ok := f.hyperliquidSigner(kind)
		if !ok {
			return nil
		}
		rest := f.hyperliquidREST(signer)
		p := venue.NewProber(proberConfig(f.cfg, kind, f.cfg.Hyperliquid.Asset, f.cfg.Hyperliquid.Precision), rest,
			proberOptions(kind, f.sink)...)
		return venue.NewRestAdapter(p)

	case types.VenueHyperliquidWS:
		signer, ok := f.hyperliquidSigner(kind)
		if !ok {
			return nil
		}
		wsURL := f.cfg.Hyperliquid.WSURL
		if wsURL == "" && f.cfg.Hyperliquid.Testnet {
			wsURL = hyperliquid.DefaultWSURLTestnet
		}
		ws := hyperliquid.NewWSTransport(hyperliquid.NewWSClient(types.WebSocketConfig{
			URL:              wsURL,
			HandshakeTimeout: f.cfg.Supervisor.DialTimeout,
			MessageTimeout:   f.cfg.CallTimeout,
			EnableHeartbeat:  true,
		}), signer, f.cfg.Hyperliquid.WalletAddress)
		fallback := f.hyperliquidREST(signer)
		p := venue.NewProber(proberConfig(f.cfg, kind, f.cfg.Hyperliquid.Asset, f.cfg.Hyperliquid.Precision), ws,
			proberOptions(kind, f.sink,
				venue.WithFallbackTransport(fallback),
				venue.WithFallbackPrice(fallback.FallbackPrice(f.cfg.Hyperliquid.Asset)),
			)...)
		sup := supervisor.New(string(kind), ws, f.cfg.Supervisor,
			supervisor.WithSink(f.sink),
			supervisor.WithLogger(venueLogger(kind).WithField("component", "supervisor")),
		)
		return venue.NewPersistentAdapter(p, ws, sup)

	default:
		f.logger.WithField("venue", kind).Error("unsupported venue")
		return nil
	}
}

// hyperliquidSigner parses the configured key. A bad key leaves the venue out.
func (f *Factory) hyperliquidSigner(kind types.VenueKind) (*hyperliquid.Signer, bool) {
	signer, err := hyperliquid.NewSigner(f.cfg.Hyperliquid.PrivateKey, !f.cfg.Hyperliquid.Testnet)
	if err != nil {
		f.logger.WithError(err).WithField("venue", kind).Error("Hyperliquid key rejected; venue skipped")
		return nil, false
	}
	return signer, true
}

func (f *Factory) hyperliquidREST(signer *hyperliquid.Signer) *hyperliquid.Transport {
	client := hyperliquid.NewClient(hyperliquid.Config{
		Testnet:           f.cfg.Hyperliquid.Testnet,
		BaseURL:           f.cfg.Hyperliquid.BaseURL,
		Timeout:           f.cfg.CallTimeout,
		RequestsPerSecond: f.cfg.Hyperliquid.RequestsPerSecond,
	})
	return hyperliquid.NewTransport(client, signer, f.cfg.Hyperliquid.WalletAddress)
}

func (f *Factory) binanceREST() *binance.RESTTransport {
	return binance.NewRESTTransport(binance.RESTConfig{
		APIKey:            f.cfg.Binance.APIKey,
		SecretKey:         f.cfg.Binance.SecretKey,
		Testnet:           f.cfg.Binance.Testnet,
		BaseURL:           f.cfg.Binance.BaseURL,
		AccountMode:       f.cfg.Binance.AccountMode,
		RequestsPerSecond: f.cfg.Binance.RequestsPerSecond,
	})
}
