package types

import (
	"time"
)

// ConnectionState is the lifecycle state of a persistent venue connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateRecoveryInProgress
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecoveryInProgress:
		return "recovering"
	default:
		return "unknown"
	}
}

// WebSocketConfig contains WebSocket connection configuration
type WebSocketConfig struct {
	// Connection settings
	URL       string
	APIKey    string
	SecretKey string

	// Performance settings
	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	// Message settings
	MessageTimeout time.Duration
	MaxMessageSize int64

	// Features
	EnableCompression bool
	EnableHeartbeat   bool
}

// WebSocketMetrics contains WebSocket transport counters
type WebSocketMetrics struct {
	Connected        bool
	ConnectionUptime time.Duration
	MessagesSent     int64
	MessagesReceived int64
	PendingRequests  int
	TimedOut         int64
	Orphaned         int64
	ReconnectCount   int
}
