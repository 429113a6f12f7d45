package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// Activities holds the services activities call. Register a populated
// pointer with the worker; workflows reference methods on a nil pointer.
type Activities struct {
	Engine   *decision.Engine
	Pipeline *pipeline.Service
}

// ProcessThreadInput names the thread to process.
type ProcessThreadInput struct {
	ThreadID string
	Force    bool
}

// ProcessThreadResult summarizes a pipeline run.
type ProcessThreadResult struct {
	ThreadID      string
	CurrentStatus string
	LinkDecision  string
	Mutations     int
}

// ExpireProposalsActivity runs one expiry sweep.
func (a *Activities) ExpireProposalsActivity(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := a.Engine.ExpireStale(ctx)
	record(ctx, "expire_proposals", start, err)
	return n, err
}

// ProcessThreadActivity runs the pipeline for one thread. A missing
// thread fails without retry.
func (a *Activities) ProcessThreadActivity(ctx context.Context, in ProcessThreadInput) (*ProcessThreadResult, error) {
	start := time.Now()
	report, err := a.Pipeline.ProcessThread(ctx, in.ThreadID, pipeline.Options{Force: in.Force})
	record(ctx, "process_thread", start, err)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ThreadNotFound", err)
		}
		return nil, err
	}

	res := &ProcessThreadResult{
		ThreadID:  in.ThreadID,
		Mutations: report.Mutations(),
	}
	if report.Analysis != nil {
		res.CurrentStatus = report.Analysis.CurrentStatus
	}
	if report.Link != nil {
		res.LinkDecision = string(report.Link.Decision)
	}
	return res, nil
}
