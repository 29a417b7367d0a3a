package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mExOms/venueprobe/internal/config"
	"github.com/mExOms/venueprobe/internal/ledger"
	"github.com/mExOms/venueprobe/internal/stats"
	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Binance.APIKey, cfg.Binance.SecretKey = "", ""
	cfg.Bybit.APIKey, cfg.Bybit.SecretKey = "", ""
	cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey = "", ""
	return cfg
}

const (
	testWallet = "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"
	testKey    = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

func names(adapters []venue.Adapter) []string {
	out := make([]string, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Name())
	}
	return out
}

func TestCreateAdapters(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.Config)
		want  []string
	}{
		{
			name:  "no credentials",
			setup: func(cfg *config.Config) {},
			want:  []string{},
		},
		{
			name: "binance both transports",
			setup: func(cfg *config.Config) {
				cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
			},
			want: []string{"binance-rest", "binance-ws"},
		},
		{
			name: "binance websocket only",
			setup: func(cfg *config.Config) {
				cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
				cfg.Binance.EnableREST = false
			},
			want: []string{"binance-ws"},
		},
		{
			name: "binance margin skips websocket",
			setup: func(cfg *config.Config) {
				cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
				cfg.Binance.AccountMode = types.AccountModeMargin
			},
			want: []string{"binance-rest"},
		},
		{
			name: "half a key pair is excluded",
			setup: func(cfg *config.Config) {
				cfg.Binance.APIKey = "k"
				cfg.Bybit.APIKey, cfg.Bybit.SecretKey = "k", "s"
			},
			want: []string{"bybit-rest"},
		},
		{
			name: "hyperliquid both transports",
			setup: func(cfg *config.Config) {
				cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey = testWallet, testKey
			},
			want: []string{"hyperliquid-rest", "hyperliquid-ws"},
		},
		{
			name: "hyperliquid rest only",
			setup: func(cfg *config.Config) {
				cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey = testWallet, testKey
				cfg.Hyperliquid.EnableWS = false
			},
			want: []string{"hyperliquid-rest"},
		},
		{
			name: "hyperliquid wallet without key",
			setup: func(cfg *config.Config) {
				cfg.Hyperliquid.WalletAddress = testWallet
			},
			want: []string{},
		},
		{
			name: "hyperliquid bad key is left out",
			setup: func(cfg *config.Config) {
				cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey = testWallet, "0xzz"
				cfg.Bybit.APIKey, cfg.Bybit.SecretKey = "k", "s"
			},
			want: []string{"bybit-rest"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tt.setup(cfg)
			adapters := NewFactory(cfg, events.Discard).CreateAdapters()
			assert.Equal(t, tt.want, names(adapters))
		})
	}
}

func TestCreateAdapterKinds(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
	f := NewFactory(cfg, nil)

	rest, ok := f.CreateAdapter(types.VenueBinanceREST).(*venue.RestAdapter)
	require.True(t, ok)
	pc := rest.Prober().Config()
	assert.Equal(t, "BTCUSDT", pc.Symbol)
	assert.True(t, pc.OrderSize.Equal(decimal.RequireFromString("0.0001")))
	assert.IsType(t, venue.TieredTick{}, pc.Precision.Tick)

	ws, ok := f.CreateAdapter(types.VenueBinanceWS).(*venue.PersistentAdapter)
	require.True(t, ok)
	assert.Equal(t, types.StateDisconnected, ws.ConnectionState())

	bybitAdapter, ok := f.CreateAdapter(types.VenueBybitREST).(*venue.RestAdapter)
	require.True(t, ok)
	assert.IsType(t, venue.FixedTick{}, bybitAdapter.Prober().Config().Precision.Tick)

	assert.Nil(t, f.CreateAdapter(types.VenueKind("kraken")))
}

func TestCreateHyperliquidAdapters(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Hyperliquid.WalletAddress, cfg.Hyperliquid.PrivateKey = testWallet, testKey
	f := NewFactory(cfg, nil)

	rest, ok := f.CreateAdapter(types.VenueHyperliquidREST).(*venue.RestAdapter)
	require.True(t, ok)
	pc := rest.Prober().Config()
	assert.Equal(t, "BTC", pc.Symbol)
	assert.IsType(t, venue.FixedTick{}, pc.Precision.Tick)
	assert.Equal(t, "1", pc.Precision.Tick.TickFor(decimal.NewFromInt(60000)).String())
	price, _ := pc.Precision.FormatPrice(decimal.RequireFromString("57005"))
	assert.Equal(t, "57005", price)

	ws, ok := f.CreateAdapter(types.VenueHyperliquidWS).(*venue.PersistentAdapter)
	require.True(t, ok)
	assert.Equal(t, "BTC", ws.Prober().Config().Symbol)
	assert.Equal(t, types.StateDisconnected, ws.ConnectionState())
}

func TestPrecision(t *testing.T) {
	tiered := precision(config.PrecisionConfig{
		TickThreshold: decimal.NewFromInt(1000),
		TickHigh:      decimal.RequireFromString("0.10"),
		TickLow:       decimal.RequireFromString("0.01"),
	})
	assert.Equal(t, "0.1", tiered.Tick.TickFor(decimal.NewFromInt(1000)).String())
	assert.Equal(t, "0.01", tiered.Tick.TickFor(decimal.NewFromInt(999)).String())

	fixed := precision(config.PrecisionConfig{TickLow: decimal.RequireFromString("0.5")})
	assert.Equal(t, "0.5", fixed.Tick.TickFor(decimal.NewFromInt(50000)).String())
}

// MockAdapter is a mock venue adapter
type MockAdapter struct {
	mock.Mock
	name string
}

func (m *MockAdapter) Name() string                              { return m.name }
func (m *MockAdapter) Stats() *stats.Recorder                    { return stats.NewRecorder() }
func (m *MockAdapter) Ledger() *ledger.Ledger                    { return ledger.New() }
func (m *MockAdapter) ProbeMarketData(context.Context) error     { return nil }
func (m *MockAdapter) PlaceProbeOrder(context.Context) error     { return nil }
func (m *MockAdapter) CancelOrder(context.Context, string) error { return nil }
func (m *MockAdapter) CleanupOpenOrders(context.Context) []types.OpenOrder {
	return nil
}

func (m *MockAdapter) Start(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockAdapter) Close(ctx context.Context) []types.OpenOrder {
	m.Called()
	return nil
}

func TestManagerRegistry(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.AddAdapter(&MockAdapter{name: "a"}))
	require.NoError(t, m.AddAdapter(&MockAdapter{name: "b"}))
	assert.Error(t, m.AddAdapter(&MockAdapter{name: "a"}))

	assert.Equal(t, []string{"a", "b"}, m.ListAdapters())
	got, err := m.GetAdapter("b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name())

	require.NoError(t, m.RemoveAdapter("a"))
	assert.Error(t, m.RemoveAdapter("a"))
	_, err = m.GetAdapter("a")
	assert.Error(t, err)
	assert.Equal(t, []string{"b"}, m.ListAdapters())
}

func TestManagerStartAllExcludesFailures(t *testing.T) {
	good := &MockAdapter{name: "good"}
	good.On("Start").Return(nil)
	bad := &MockAdapter{name: "bad"}
	bad.On("Start").Return(errors.New("connect failed"))
	bad.On("Close").Return()

	m := NewManager()
	require.NoError(t, m.AddAdapter(good))
	require.NoError(t, m.AddAdapter(bad))

	failures := m.StartAll(context.Background())
	require.Len(t, failures, 1)
	assert.EqualError(t, failures["bad"], "connect failed")
	assert.Equal(t, []string{"good"}, m.ListAdapters())

	good.AssertNotCalled(t, "Close")
	bad.AssertCalled(t, "Close")
}

func TestManagerConnectionStates(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Binance.APIKey, cfg.Binance.SecretKey = "k", "s"
	f := NewFactory(cfg, nil)

	m := NewManager()
	require.NoError(t, m.AddAdapter(f.CreateAdapter(types.VenueBinanceREST)))
	require.NoError(t, m.AddAdapter(f.CreateAdapter(types.VenueBinanceWS)))

	states := m.ConnectionStates()
	assert.Equal(t, map[string]types.ConnectionState{"binance-ws": types.StateDisconnected}, states)
}
