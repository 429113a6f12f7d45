package decision

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpiryScheduler runs the proposal expiry sweep on a fixed interval.
//
// Thread Safety: Start and Stop are safe for concurrent use.
type ExpiryScheduler struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures an ExpiryScheduler.
type SchedulerOption func(*ExpiryScheduler)

// WithInterval sets the time between sweeps (default: 5m).
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepTimeout bounds a single sweep (default: 1m).
func WithSweepTimeout(d time.Duration) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewExpiryScheduler creates a scheduler. It does not start until Start
// is called.
func NewExpiryScheduler(engine *Engine, logger *zap.Logger, opts ...SchedulerOption) (*ExpiryScheduler, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpiryScheduler{
		engine:   engine,
		interval: 5 * time.Minute,
		timeout:  time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background sweep loop.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("proposal expiry scheduler started", zap.Duration("interval", s.interval))
	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for an in-flight sweep. Calling
// Stop on a stopped scheduler is a no-op.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("proposal expiry scheduler stopped")
}

// Running reports whether the loop is active.
func (s *ExpiryScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ExpiryScheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-stop:
			return
		}
	}
}

// safeSweep keeps a panicking sweep from killing the loop.
func (s *ExpiryScheduler) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("expiry sweep panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.engine.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err), zap.Int("expired", n))
		return
	}
	s.logger.Debug("expiry sweep finished", zap.Int("expired", n))
}
