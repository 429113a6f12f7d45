// Package workflows provides Temporal workflows for the proposal expiry
// sweep and durable thread processing.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ExpireProposalsWorkflow runs a single expiry sweep. It is started by an
// interval schedule and is safe to overlap with itself.
func ExpireProposalsWorkflow(ctx workflow.Context) (int, error) {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var expired int
	if err := workflow.ExecuteActivity(ctx, a.ExpireProposalsActivity).Get(ctx, &expired); err != nil {
		logger.Error("expiry sweep failed", "error", err)
		return 0, err
	}

	logger.Info("expiry sweep finished", "expired", expired)
	return expired, nil
}

// ProcessThreadWorkflow runs the pipeline for one thread with retries.
func ProcessThreadWorkflow(ctx workflow.Context, in ProcessThreadInput) (*ProcessThreadResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("processing thread", "thread_id", in.ThreadID, "force", in.Force)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        4,
			NonRetryableErrorTypes: []string{"ThreadNotFound"},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var res ProcessThreadResult
	if err := workflow.ExecuteActivity(ctx, a.ProcessThreadActivity, in).Get(ctx, &res); err != nil {
		logger.Error("thread processing failed", "thread_id", in.ThreadID, "error", err)
		return nil, err
	}
	return &res, nil
}
