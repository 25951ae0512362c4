package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pressline/internal/engine"
)

// Sweeper publishes due scheduled records.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (engine.SweepResult, error)
}

// SweepScheduler runs a sweep on start and then every interval.
type SweepScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
}

func NewSweepScheduler(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *SweepScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepScheduler{sweeper: sweeper, interval: interval, now: time.Now, logger: logger}
}

func (s *SweepScheduler) Name() string { return "SweepScheduler" }

func (s *SweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("sweep scheduler is already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true
	s.logger.Info("sweep scheduler started", zap.Duration("interval", s.interval))
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
}

// Runs reports how many sweeps have completed.
func (s *SweepScheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *SweepScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SweepScheduler) runOnce(ctx context.Context) {
	res, err := s.sweeper.Sweep(ctx, s.now())
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
		return
	}
	if len(res.Failures) > 0 {
		s.logger.Warn("scheduled sweep had failures",
			zap.Int("published", res.Published),
			zap.Strings("failures", res.Failures))
	}
}
