package supervisor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the recovery policy. Every value is a tunable.
type Config struct {
	ConnectAttempts int
	ConnectDelays   []time.Duration

	HealthInterval time.Duration
	StaleAfter     time.Duration
	RecoverAfter   time.Duration
	ProbeTimeout   time.Duration
	DialTimeout    time.Duration

	OperationTimeout time.Duration
	FailureThreshold int
	OperationRetries int
	RetryPause       time.Duration

	RecoveryCooldown     time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectJitter      float64

	OrphanQuantityTolerance decimal.Decimal
	OrphanPriceTolerance    decimal.Decimal
	OrphanWindow            time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 5,
		ConnectDelays:   []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second},

		HealthInterval: 45 * time.Second,
		StaleAfter:     180 * time.Second,
		RecoverAfter:   300 * time.Second,
		ProbeTimeout:   15 * time.Second,
		DialTimeout:    15 * time.Second,

		// min(30s * 0.8, 20s)
		OperationTimeout: 20 * time.Second,
		FailureThreshold: 3,
		OperationRetries: 2,
		RetryPause:       500 * time.Millisecond,

		RecoveryCooldown:     2 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectJitter:      0.1,

		OrphanQuantityTolerance: decimal.RequireFromString("0.001"),
		OrphanPriceTolerance:    decimal.RequireFromString("0.01"),
		OrphanWindow:            30 * time.Second,
	}
}

func (c Config) connectDelay(attempt int) time.Duration {
	if len(c.ConnectDelays) == 0 {
		return 0
	}
	if attempt >= len(c.ConnectDelays) {
		return c.ConnectDelays[len(c.ConnectDelays)-1]
	}
	return c.ConnectDelays[attempt]
}
