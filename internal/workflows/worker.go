package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// Config configures the Temporal integration.
type Config struct {
	Enabled       bool          `koanf:"enabled"`
	HostPort      string        `koanf:"host_port"`
	Namespace     string        `koanf:"namespace"`
	TaskQueue     string        `koanf:"task_queue"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	ScheduleID    string        `koanf:"schedule_id"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		HostPort:      "localhost:7233",
		Namespace:     "default",
		TaskQueue:     "vendorflow",
		SweepInterval: 5 * time.Minute,
		ScheduleID:    "vendorflow-expire-proposals",
	}
}

// Dial connects to Temporal, logging through logger.
func Dial(cfg Config, logger *zap.Logger) (client.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    zapAdapter{logger.Sugar()},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker creates a worker on the configured task queue with every
// workflow and activity registered.
func NewWorker(c client.Client, cfg Config, acts *Activities) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(ExpireProposalsWorkflow)
	w.RegisterWorkflow(ProcessThreadWorkflow)
	w.RegisterActivity(acts)
	return w
}

// EnsureExpirySchedule creates the interval schedule that starts
// ExpireProposalsWorkflow. An existing schedule is left as is.
func EnsureExpirySchedule(ctx context.Context, c client.Client, cfg Config) error {
	_, err := c.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: cfg.ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: cfg.SweepInterval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        cfg.ScheduleID + "-run",
			Workflow:  ExpireProposalsWorkflow,
			TaskQueue: cfg.TaskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating schedule %s: %w", cfg.ScheduleID, err)
	}
	return nil
}

// Starter starts durable thread runs.
type Starter struct {
	client    client.Client
	taskQueue string
}

// NewStarter creates a Starter on the given task queue.
func NewStarter(c client.Client, taskQueue string) *Starter {
	return &Starter{client: c, taskQueue: taskQueue}
}

// ProcessThread starts ProcessThreadWorkflow. The workflow id is derived
// from the thread so a thread has at most one run in flight.
func (s *Starter) ProcessThread(ctx context.Context, threadID string, force bool) (string, error) {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "process-thread-" + threadID,
		TaskQueue: s.taskQueue,
	}, ProcessThreadWorkflow, ProcessThreadInput{ThreadID: threadID, Force: force})
	if err != nil {
		return "", fmt.Errorf("starting thread workflow: %w", err)
	}
	return run.GetRunID(), nil
}

// zapAdapter satisfies Temporal's key/value logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z zapAdapter) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z zapAdapter) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z zapAdapter) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z zapAdapter) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }
