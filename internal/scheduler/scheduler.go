// Package scheduler runs the probe loop: it picks a weighted random probe,
// runs it, paces itself with jitter and always cleans up on the way out.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mExOms/venueprobe/internal/venue"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Mode selects how adapters share the loop.
type Mode string

const (
	// ModeShared runs one loop choosing across every adapter's tasks.
	ModeShared Mode = "shared"
	// ModePerVenue runs one independent loop per adapter.
	ModePerVenue Mode = "per-venue"
)

// Config controls pacing and termination.
type Config struct {
	Mode Mode
	// Duration of the run; zero runs until stopped.
	Duration time.Duration
	// MaxIterations stops a loop after that many probes; zero is unlimited.
	MaxIterations int
	MinInterval   time.Duration
	MaxInterval   time.Duration
	MarketWeight  int
	OrderWeight   int
	Seed          int64
	// CleanupTimeout bounds the cleanup of each adapter on exit.
	CleanupTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeShared,
		MinInterval:    500 * time.Millisecond,
		MaxInterval:    time.Second,
		MarketWeight:   1,
		OrderWeight:    2,
		Seed:           time.Now().UnixNano(),
		CleanupTimeout: 60 * time.Second,
	}
}

// Task is one entry of the selection multiset.
type Task struct {
	Venue string
	Op    types.Operation
	Run   func(ctx context.Context) error
}

// Result summarizes a finished run.
type Result struct {
	Iterations int64
	// Stranded holds orders still open at the venues after cleanup.
	Stranded map[string][]types.OpenOrder
}

// Scheduler drives a fixed set of adapters.
type Scheduler struct {
	cfg      Config
	adapters []venue.Adapter
	logger   *logrus.Entry

	stopped    atomic.Bool
	iterations atomic.Int64
	sleep      func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	cancelLoop context.CancelFunc
}

func New(cfg Config, adapters []venue.Adapter) *Scheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeShared
	}
	if cfg.MarketWeight < 0 {
		cfg.MarketWeight = 0
	}
	if cfg.OrderWeight < 0 {
		cfg.OrderWeight = 0
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 60 * time.Second
	}
	return &Scheduler{
		cfg:      cfg,
		adapters: adapters,
		logger:   logrus.WithField("component", "scheduler"),
		sleep:    sleepCtx,
	}
}

// Stop asks every loop to finish after the probe in flight. It also cuts
// short the pause between probes.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	cancel := s.cancelLoop
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Iterations is the number of probes run so far.
func (s *Scheduler) Iterations() int64 {
	return s.iterations.Load()
}

// Tasks builds the weighted multiset for the given adapters.
func Tasks(adapters []venue.Adapter, marketWeight, orderWeight int) []Task {
	var tasks []Task
	for _, a := range adapters {
		a := a
		for i := 0; i < marketWeight; i++ {
			tasks = append(tasks, Task{Venue: a.Name(), Op: types.OpMarketData, Run: a.ProbeMarketData})
		}
		for i := 0; i < orderWeight; i++ {
			tasks = append(tasks, Task{Venue: a.Name(), Op: types.OpPlaceOrder, Run: a.PlaceProbeOrder})
		}
	}
	return tasks
}

// Run loops until the deadline, Stop, ctx cancellation or MaxIterations.
// Every adapter is closed exactly once before Run returns.
func (s *Scheduler) Run(ctx context.Context) (res Result) {
	res.Stranded = make(map[string][]types.OpenOrder)
	defer func() {
		res.Iterations = s.iterations.Load()
		s.cleanup(res.Stranded)
	}()

	if len(s.adapters) == 0 {
		return res
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cfg.Duration > 0 {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithTimeout(runCtx, s.cfg.Duration)
		defer cancelDeadline()
	}
	s.mu.Lock()
	s.cancelLoop = cancel
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"mode":     s.cfg.Mode,
		"venues":   len(s.adapters),
		"duration": s.cfg.Duration.String(),
	}).Info("probe loop started")

	switch s.cfg.Mode {
	case ModePerVenue:
		g, gctx := errgroup.WithContext(runCtx)
		for i, a := range s.adapters {
			tasks := Tasks([]venue.Adapter{a}, s.cfg.MarketWeight, s.cfg.OrderWeight)
			rng := rand.New(rand.NewSource(s.cfg.Seed + int64(i)))
			g.Go(func() error {
				s.loop(gctx, tasks, rng)
				return nil
			})
		}
		_ = g.Wait()
	default:
		tasks := Tasks(s.adapters, s.cfg.MarketWeight, s.cfg.OrderWeight)
		s.loop(runCtx, tasks, rand.New(rand.NewSource(s.cfg.Seed)))
	}

	s.logger.WithField("iterations", s.iterations.Load()).Info("probe loop finished")
	return res
}

func (s *Scheduler) loop(ctx context.Context, tasks []Task, rng *rand.Rand) {
	if len(tasks) == 0 {
		return
	}
	var done int
	for !s.finished(ctx) {
		if s.cfg.MaxIterations > 0 && done >= s.cfg.MaxIterations {
			return
		}
		task := tasks[rng.Intn(len(tasks))]
		s.runTask(ctx, task)
		done++
		s.iterations.Add(1)

		if s.finished(ctx) {
			return
		}
		s.sleep(ctx, s.jitter(rng))
	}
}

func (s *Scheduler) finished(ctx context.Context) bool {
	return s.stopped.Load() || ctx.Err() != nil
}

func (s *Scheduler) jitter(rng *rand.Rand) time.Duration {
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(rng.Int63n(int64(span)+1))
}

// runTask runs a probe on a context detached from cancellation so a stop
// lets it finish; its own timeouts bound it.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	logger := s.logger.WithFields(logrus.Fields{"venue": task.Venue, "operation": task.Op})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("probe panicked")
		}
	}()
	if err := task.Run(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).WithField("class", types.Classify(err).String()).Warn("probe failed")
	}
}

func (s *Scheduler) cleanup(stranded map[string][]types.OpenOrder) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, a := range s.adapters {
		wg.Add(1)
		go func(a venue.Adapter) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
			defer cancel()

			left := s.closeAdapter(ctx, a)
			if len(left) == 0 {
				return
			}
			mu.Lock()
			stranded[a.Name()] = left
			mu.Unlock()
			for _, o := range left {
				s.logger.WithFields(logrus.Fields{
					"venue":    a.Name(),
					"order_id": o.ID,
					"symbol":   o.Symbol,
					"price":    o.Price.String(),
					"quantity": o.Quantity.String(),
				}).Error("order left open at venue after cleanup")
			}
		}(a)
	}
	wg.Wait()
}

func (s *Scheduler) closeAdapter(ctx context.Context, a venue.Adapter) (left []types.OpenOrder) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("venue", a.Name()).WithField("panic", fmt.Sprint(r)).Error("adapter close panicked")
			left = a.Ledger().List()
		}
	}()
	return a.Close(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
