// Package supervisor keeps a persistent venue connection usable: it connects
// with progressive delays, watches for staleness, guards operations with
// timeouts and bounded retries, and recovers with backoff behind a
// reentrancy flag and a cooldown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Connection is the persistent transport under supervision.
type Connection interface {
	// Dial establishes a fresh connection, replacing any previous one.
	Dial(ctx context.Context) error
	// Ping is a lightweight liveness probe.
	Ping(ctx context.Context) error
	Close() error
}

// Supervisor owns the lifecycle of one adapter's connection.
type Supervisor struct {
	name   string
	conn   Connection
	cfg    Config
	logger *logrus.Entry
	sink   events.Sink
	now    func() time.Time

	state      atomic.Int32
	recovering atomic.Bool
	failures   atomic.Int32

	mu              sync.Mutex
	lastSuccess     time.Time
	lastRecoveryTry time.Time
	orphans         []types.OrphanCandidate
	closed          bool

	reconnects  atomic.Int64
	onRecovered func(context.Context)

	monitorStarted bool
	monitorCancel  context.CancelFunc
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

func WithLogger(logger *logrus.Entry) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSink(sink events.Sink) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock replaces time.Now for staleness and orphan-window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

func New(name string, conn Connection, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:   name,
		conn:   conn,
		cfg:    cfg,
		logger: logrus.WithFields(logrus.Fields{"venue": name, "component": "supervisor"}),
		sink:   events.Discard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(types.StateDisconnected))
	return s
}

func (s *Supervisor) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

func (s *Supervisor) IsConnected() bool {
	return s.State() == types.StateConnected
}

// OnRecovered registers fn to run after every successful recovery.
func (s *Supervisor) OnRecovered(fn func(context.Context)) {
	s.mu.Lock()
	s.onRecovered = fn
	s.mu.Unlock()
}

// Recovering reports whether a connect or recovery sequence is running.
func (s *Supervisor) Recovering() bool {
	return s.recovering.Load()
}

// ConsecutiveFailures is the current failure streak.
func (s *Supervisor) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

// Reconnects counts successful recoveries.
func (s *Supervisor) Reconnects() int64 {
	return s.reconnects.Load()
}

// LastSuccess is when an operation last completed successfully.
func (s *Supervisor) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

func (s *Supervisor) setState(st types.ConnectionState, reason string) {
	prev := types.ConnectionState(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.logger.WithFields(logrus.Fields{"from": prev.String(), "to": st.String(), "reason": reason}).Info("connection state changed")
	s.publish(events.Event{
		Kind:    events.KindConnection,
		Outcome: st.String(),
		Fields:  map[string]interface{}{"from": prev.String(), "reason": reason},
	})
}

// MarkSuccess records a successful operation.
func (s *Supervisor) MarkSuccess() {
	s.mu.Lock()
	s.lastSuccess = s.now()
	s.mu.Unlock()
	s.failures.Store(0)
	if !s.recovering.Load() {
		s.setState(types.StateConnected, "operation succeeded")
	}
}

func (s *Supervisor) markAlive() {
	s.failures.Store(0)
	s.mu.Lock()
	s.lastSuccess = s.now()
	s.mu.Unlock()
}

// acquire takes the single dial slot shared by Connect and Recover. It fails
// while another sequence holds it, within RecoveryCooldown of the previous
// sequence, and after Close.
func (s *Supervisor) acquire(reason string) bool {
	if !s.recovering.CompareAndSwap(false, true) {
		s.logger.WithField("reason", reason).Debug("dial sequence already running, request dropped")
		return false
	}
	s.mu.Lock()
	closed := s.closed
	cooling := !s.lastRecoveryTry.IsZero() && s.now().Sub(s.lastRecoveryTry) < s.cfg.RecoveryCooldown
	if !closed && !cooling {
		s.lastRecoveryTry = s.now()
	}
	s.mu.Unlock()

	if closed || cooling {
		s.recovering.Store(false)
		if cooling {
			s.logger.WithField("reason", reason).Debug("dial sequence in cooldown, request dropped")
		}
		return false
	}
	return true
}

func (s *Supervisor) silence() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSuccess.IsZero() {
		return 0
	}
	return s.now().Sub(s.lastSuccess)
}

// dialOnce tears down the old connection, dials and runs a liveness probe.
func (s *Supervisor) dialOnce(ctx context.Context) error {
	if err := s.conn.Close(); err != nil {
		s.logger.WithError(err).Debug("closing previous connection")
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	if err := s.conn.Dial(dctx); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	pctx, pcancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer pcancel()
	if err := s.conn.Ping(pctx); err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	return nil
}

// Connect makes up to ConnectAttempts attempts with progressive delays. On
// success it starts the health monitor. It never returns an error; callers
// check the result or IsConnected.
//
// Connect shares the reentrancy guard and cooldown with Recover. When the
// guard is not available it dials nothing and reports the current state.
func (s *Supervisor) Connect(ctx context.Context) bool {
	if !s.acquire("connect") {
		return s.IsConnected()
	}
	defer s.recovering.Store(false)

	s.setState(types.StateConnecting, "connect")
	attempts := s.cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err := s.dialOnce(ctx)
		if err == nil {
			s.markAlive()
			s.setState(types.StateConnected, "connected")
			s.startMonitor()
			return true
		}
		s.logger.WithError(err).WithField("attempt", i+1).Warn("connect attempt failed")
		if i == attempts-1 || !sleep(ctx, s.cfg.connectDelay(i)) {
			break
		}
	}
	s.setState(types.StateDisconnected, "connect attempts exhausted")
	return false
}

// ensureConnected connects when needed unless a recovery already runs.
func (s *Supervisor) ensureConnected(ctx context.Context) bool {
	if s.IsConnected() {
		return true
	}
	if s.recovering.Load() {
		return false
	}
	return s.Connect(ctx)
}

// Execute runs fn under the operation timeout with bounded retries.
//
// Only timeout and connection-class errors count toward the failure
// threshold and are retried; other errors are returned as is. The
// connection is marked disconnected after FailureThreshold consecutive
// failures, and only then does a retry trigger recovery. A recovery that
// fails or is dropped ends the retries.
func (s *Supervisor) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.OperationRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, s.cfg.RetryPause) {
				break
			}
			if s.State() == types.StateDisconnected && !s.Recover(ctx, name+" retry") {
				if lastErr == nil {
					lastErr = fmt.Errorf("%s: %w", name, types.ErrConnectionClosed)
				}
				break
			}
		}
		if !s.ensureConnected(ctx) {
			lastErr = fmt.Errorf("%s: %w", name, types.ErrConnectionClosed)
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
		err := fn(opCtx)
		timedOut := errors.Is(opCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			s.MarkSuccess()
			return nil
		}
		if timedOut && !errors.Is(err, types.ErrTimeout) {
			err = fmt.Errorf("%w: %v", types.ErrTimeout, err)
		}
		if !types.IsRecoverable(err) {
			return err
		}

		lastErr = err
		n := s.failures.Add(1)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operation":            name,
			"attempt":              attempt + 1,
			"consecutive_failures": n,
		}).Warn("guarded operation failed")
		if int(n) >= s.cfg.FailureThreshold && s.IsConnected() {
			s.setState(types.StateDisconnected, fmt.Sprintf("%d consecutive failures", n))
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, s.cfg.OperationRetries+1, lastErr)
}

// Recover runs one bounded reconnect sequence with exponential backoff and
// jitter. Calls made while another recovery runs, or within the cooldown of
// the previous attempt, are dropped and return false.
func (s *Supervisor) Recover(ctx context.Context, reason string) bool {
	if !s.acquire(reason) {
		return false
	}
	defer s.recovering.Store(false)

	s.setState(types.StateRecoveryInProgress, reason)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = s.cfg.ReconnectJitter
	b.MaxInterval = s.cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		err := s.dialOnce(ctx)
		if err == nil {
			s.markAlive()
			s.reconnects.Add(1)
			s.setState(types.StateConnected, fmt.Sprintf("recovered after %d attempt(s)", attempt))
			s.startMonitor()
			s.mu.Lock()
			hook := s.onRecovered
			s.mu.Unlock()
			if hook != nil {
				hook(ctx)
			}
			return true
		}
		s.logger.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
		if attempt == s.cfg.MaxReconnectAttempts || !sleep(ctx, b.NextBackOff()) {
			break
		}
	}

	s.setState(types.StateDisconnected, "recovery failed")
	s.logger.WithField("reason", reason).Error("recovery failed")
	return false
}

// startMonitor starts the health monitor once. It does nothing after Close.
func (s *Supervisor) startMonitor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.monitorStarted {
		return
	}
	s.monitorStarted = true
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	s.wg.Add(1)
	go s.monitor(ctx)
}

func (s *Supervisor) monitor(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// checkHealth probes a stale connection and recovers only when the probe
// fails and silence has also passed RecoverAfter.
func (s *Supervisor) checkHealth(ctx context.Context) {
	if s.recovering.Load() {
		return
	}
	if s.State() == types.StateDisconnected {
		s.Recover(ctx, "health: disconnected")
		return
	}
	silence := s.silence()
	if silence < s.cfg.StaleAfter {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.conn.Ping(pctx)
	cancel()
	if err == nil {
		s.MarkSuccess()
		return
	}

	s.logger.WithError(err).WithField("silence", silence.String()).Warn("health probe failed")
	if s.silence() >= s.cfg.RecoverAfter {
		s.Recover(ctx, fmt.Sprintf("health: silent for %s", silence.Round(time.Second)))
	}
}

// Close stops the health monitor and closes the connection. Later Connect
// and Recover calls dial nothing.
func (s *Supervisor) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.monitorCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		err = s.conn.Close()
		s.setState(types.StateDisconnected, "closed")
	})
	return err
}

func (s *Supervisor) publish(e events.Event) {
	e.Venue = s.name
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.sink.Publish(e)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
