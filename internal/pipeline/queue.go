package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
)

// ErrQueueFull is returned by Enqueue when the buffer is full.
var ErrQueueFull = errors.New("pipeline queue is full")

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("pipeline queue is closed")

// Processor is the part of Service the queue needs.
type Processor interface {
	ProcessThread(ctx context.Context, threadID string, opts Options) (*Report, error)
}

type job struct {
	threadID string
	opts     Options
	attempt  int
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers    int           `koanf:"workers"`
	Buffer     int           `koanf:"buffer"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	JobTimeout time.Duration `koanf:"job_timeout"`
}

// DefaultQueueConfig returns the default pool size.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Workers: 4, Buffer: 256, MaxRetries: 3, RetryDelay: 2 * time.Second, JobTimeout: 2 * time.Minute}
}

type jobState int

const (
	stateQueued jobState = iota + 1
	stateRunning
	stateRerun
)

// Queue is a bounded worker pool of thread runs. A thread that is already
// queued is not queued twice; one enqueued while running is run again
// once the current run finishes.
type Queue struct {
	proc   Processor
	cfg    QueueConfig
	logger *zap.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]jobState
	reruns   map[string]Options
	closed   bool
	cancel   context.CancelFunc
}

// NewQueue creates a queue. Call Start to launch workers.
func NewQueue(proc Processor, cfg QueueConfig, logger *zap.Logger) *Queue {
	def := DefaultQueueConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		proc:     proc,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(chan job, cfg.Buffer),
		inflight: make(map[string]jobState),
		reruns:   make(map[string]Options),
	}
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.logger.Info("pipeline workers started", zap.Int("workers", q.cfg.Workers))
}

// Enqueue schedules a thread. Duplicates are folded and reported as
// accepted.
func (q *Queue) Enqueue(threadID string, opts Options) error {
	return q.enqueue(job{threadID: threadID, opts: opts})
}

func (q *Queue) enqueue(j job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if j.attempt == 0 {
		switch q.inflight[j.threadID] {
		case stateQueued:
			return nil
		case stateRunning, stateRerun:
			q.inflight[j.threadID] = stateRerun
			q.reruns[j.threadID] = mergeOptions(q.reruns[j.threadID], j.opts)
			return nil
		}
	}
	select {
	case q.jobs <- j:
		q.inflight[j.threadID] = stateQueued
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting work, cancels running jobs and waits for workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	q.logger.Info("pipeline workers stopped")
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			metrics.QueueDepth.Set(float64(len(q.jobs)))
			q.run(ctx, j)
		}
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	q.mu.Lock()
	q.inflight[j.threadID] = stateRunning
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("pipeline job panicked",
				zap.String("thread_id", j.threadID), zap.Any("panic", r), zap.Stack("stack"))
			q.done(j.threadID)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	_, err := q.proc.ProcessThread(jobCtx, j.threadID, j.opts)
	cancel()

	if err == nil {
		q.done(j.threadID)
		return
	}
	if decision.IsRetryable(err) && j.attempt < q.cfg.MaxRetries && ctx.Err() == nil {
		q.logger.Warn("thread processing failed, retrying",
			zap.String("thread_id", j.threadID), zap.Int("attempt", j.attempt+1), zap.Error(err))
		next := job{threadID: j.threadID, opts: j.opts, attempt: j.attempt + 1}
		time.AfterFunc(q.cfg.RetryDelay*time.Duration(1<<j.attempt), func() {
			if err := q.enqueue(next); err != nil {
				q.logger.Error("dropping retry", zap.String("thread_id", j.threadID), zap.Error(err))
				q.done(j.threadID)
			}
		})
		return
	}
	q.logger.Error("thread processing failed",
		zap.String("thread_id", j.threadID), zap.Int("attempts", j.attempt+1), zap.Error(err))
	q.done(j.threadID)
}

// done clears a finished thread and queues the rerun requested while it
// was running.
func (q *Queue) done(threadID string) {
	q.mu.Lock()
	rerun := q.inflight[threadID] == stateRerun
	opts := q.reruns[threadID]
	delete(q.inflight, threadID)
	delete(q.reruns, threadID)
	q.mu.Unlock()

	if rerun {
		if err := q.enqueue(job{threadID: threadID, opts: opts}); err != nil {
			q.logger.Warn("dropping rerun", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
}

// mergeOptions folds a second request into a pending rerun; a forced
// request stays forced.
func mergeOptions(a, b Options) Options {
	return Options{Force: a.Force || b.Force}
}
