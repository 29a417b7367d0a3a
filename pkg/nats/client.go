package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/pkg/events"
)

// Publisher fans probe events out to NATS. It implements events.Sink.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	config *Config
}

// Config holds NATS configuration
type Config struct {
	URL      string
	ClientID string
	Prefix   string
	// Stream, when set, makes publishes go through JetStream into this stream.
	Stream *StreamConfig
}

// StreamConfig defines JetStream configuration
type StreamConfig struct {
	Name    string
	MaxAge  time.Duration
	MaxMsgs int64
}

// NewPublisher connects to NATS and prepares the optional stream.
func NewPublisher(config *Config) (*Publisher, error) {
	logger := logrus.WithField("component", "nats-publisher")

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Errorf("NATS error: %v", err)
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &Publisher{conn: conn, logger: logger, config: config}

	if config.Stream != nil {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		p.js = js
		if err := p.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	sc := p.config.Stream
	cfg := &nats.StreamConfig{
		Name:      sc.Name,
		Subjects:  []string{StreamSubjects(p.config.Prefix)},
		Retention: nats.LimitsPolicy,
		MaxAge:    sc.MaxAge,
		MaxMsgs:   sc.MaxMsgs,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if _, err := p.js.StreamInfo(sc.Name); err == nil {
		if _, err := p.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", sc.Name, err)
		}
		p.logger.Infof("Updated stream: %s", sc.Name)
		return nil
	}
	if _, err := p.js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
	}
	p.logger.Infof("Created stream: %s", sc.Name)
	return nil
}

// Publish implements events.Sink. Failures are logged, never returned.
func (p *Publisher) Publish(e events.Event) {
	subject := EventSubject(p.config.Prefix, e)
	if err := p.publish(subject, NewEventMessage(e)); err != nil {
		p.logger.WithError(err).Debug("event publish failed")
	}
}

func (p *Publisher) publish(subject string, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if p.js != nil {
		// async so a slow server never stalls a probe
		if _, err := p.js.PublishAsync(subject, msg); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
		return nil
	}
	if err := p.conn.Publish(subject, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	defer p.conn.Close()
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("failed to flush NATS: %w", err)
	}
	return nil
}
