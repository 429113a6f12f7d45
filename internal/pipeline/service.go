// Package pipeline runs the per-thread flow: analyze, link, decide.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vendorflow/internal/analyzer"
	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

const instrumentationName = "github.com/fyrsmithlabs/vendorflow/internal/pipeline"

// Options tune a single run.
type Options struct {
	// Force re-analyzes even when the stored snapshot is fresh.
	Force bool
}

// Report summarizes one thread run.
type Report struct {
	ThreadID   string             `json:"threadId"`
	Analysis   *thread.Analysis   `json:"analysis"`
	Reanalyzed bool               `json:"reanalyzed"`
	Link       *linking.Result    `json:"link,omitempty"`
	Outcomes   []decision.Outcome `json:"outcomes"`
}

// Mutations counts the status changes and proposals the run wrote.
func (r *Report) Mutations() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Mutated() {
			n++
		}
	}
	return n
}

// Service wires the analyzer, linker and decision engine.
type Service struct {
	store    *store.Store
	analyzer *analyzer.Analyzer
	linker   *linking.Linker
	engine   *decision.Engine
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewService creates a pipeline service.
func NewService(st *store.Store, an *analyzer.Analyzer, ln *linking.Linker, en *decision.Engine, logger *zap.Logger) (*Service, error) {
	if st == nil || an == nil || ln == nil || en == nil {
		return nil, errors.New("store, analyzer, linker and engine are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		analyzer: an,
		linker:   ln,
		engine:   en,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// ProcessThread runs the whole flow for one thread. Running it again
// without new messages writes nothing.
func (s *Service) ProcessThread(ctx context.Context, threadID string, opts Options) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.ProcessThread", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	report, err := s.process(ctx, threadID, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process thread failed")
		metrics.RecordThreadProcessed("error")
		return nil, err
	}
	span.SetAttributes(attribute.Int("mutations", report.Mutations()))
	if report.Mutations() == 0 {
		metrics.RecordThreadProcessed("skipped")
	} else {
		metrics.RecordThreadProcessed("success")
	}
	return report, nil
}

func (s *Service) process(ctx context.Context, threadID string, opts Options) (*Report, error) {
	res, err := s.analyzer.AnalyzeThread(ctx, threadID, opts.Force)
	if err != nil {
		return nil, retryable("analyzing thread", err)
	}
	report := &Report{ThreadID: threadID, Analysis: res.Analysis, Reanalyzed: !res.Reused}

	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, retryable("loading thread", err)
	}
	msgs, err := analyzer.LoadMessages(ctx, s.store, threadID)
	if err != nil {
		return nil, retryable("loading messages", err)
	}

	if t.DetectedProjectID == nil && len(msgs) > 0 {
		link, err := s.linker.Link(ctx, threadID, msgs, res.Analysis.ProjectSignals)
		if err != nil {
			return nil, retryable("linking thread", err)
		}
		report.Link = link
		if link.Decision == linking.DecisionAuto {
			if msgs, err = analyzer.LoadMessages(ctx, s.store, threadID); err != nil {
				return nil, retryable("reloading messages", err)
			}
		}
	}

	relIDs, err := s.relationships(ctx, msgs)
	if err != nil {
		return nil, retryable("resolving relationships", err)
	}

	report.Outcomes, err = s.engine.Process(ctx, threadID, res.Analysis, relIDs)
	if report.Outcomes == nil {
		report.Outcomes = []decision.Outcome{}
	}
	if err != nil {
		return report, err
	}

	s.logger.Debug("thread processed",
		zap.String("thread_id", threadID),
		zap.String("status", res.Analysis.CurrentStatus),
		zap.Int("relationships", len(relIDs)),
		zap.Int("mutations", report.Mutations()))
	return report, nil
}

// relationships resolves the distinct supplier/project pairs on msgs,
// creating relationships that do not exist yet.
func (s *Service) relationships(ctx context.Context, msgs []thread.Message) ([]string, error) {
	seen := make(map[[2]string]bool)
	var ids []string
	for _, m := range msgs {
		if m.SupplierID == "" || m.ProjectID == "" {
			continue
		}
		pair := [2]string{m.SupplierID, m.ProjectID}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		rel, err := s.store.EnsureRelationship(ctx, m.SupplierID, m.ProjectID, "")
		if err != nil {
			return nil, err
		}
		ids = append(ids, rel.ID)
	}
	return ids, nil
}

// ProcessBatch processes threads with at most concurrency in flight.
// Every thread is attempted; failures are joined.
func (s *Service) ProcessBatch(ctx context.Context, threadIDs []string, opts Options, concurrency int) ([]*Report, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	reports := make([]*Report, len(threadIDs))
	errs := make([]error, len(threadIDs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range threadIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			r, err := s.ProcessThread(ctx, id, opts)
			if err != nil {
				errs[i] = fmt.Errorf("thread %s: %w", id, err)
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// ProcessStale processes up to limit threads whose analysis is missing or
// out of date.
func (s *Service) ProcessStale(ctx context.Context, limit, concurrency int) ([]*Report, error) {
	ids, err := s.store.StaleThreadIDs(ctx, s.analyzer.Version(), limit)
	if err != nil {
		return nil, retryable("listing stale threads", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	s.logger.Info("processing stale threads", zap.Int("count", len(ids)))
	return s.ProcessBatch(ctx, ids, Options{}, concurrency)
}

// retryable marks store failures retryable and leaves not-found and
// cancellation errors alone.
func retryable(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return decision.Retryable(op, err)
}
