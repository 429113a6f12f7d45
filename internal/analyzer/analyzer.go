// Package analyzer turns a thread's messages into a normalized analysis.
//
// The AI extractor is tried first under a timeout. Any failure, timeout or
// structurally empty reply falls through to the deterministic signal
// matcher. Finding nothing is a valid outcome and never an error.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/extraction"
	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

const instrumentationName = "github.com/fyrsmithlabs/vendorflow/internal/analyzer"

// Config configures the analyzer.
type Config struct {
	// Timeout bounds a single extractor call (default: 30s).
	Timeout time.Duration

	// Version is stamped on every persisted analysis. Threads analyzed
	// under a different version are considered stale.
	Version string
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, Version: "1"}
}

// Result is the outcome of one analysis pass.
type Result struct {
	Analysis *thread.Analysis

	// Trigger is the message whose content produced the current status.
	// It is the zero value when no status was detected.
	Trigger thread.Message

	// Reused is set when a fresh snapshot was returned without analyzing.
	Reused bool

	// Changed is set when the thread's current status moved.
	Changed bool
}

// Analyzer fuses AI extraction with the signal-matcher fallback.
type Analyzer struct {
	extractor extraction.Extractor
	defs      *signals.Cache
	store     *store.Store
	logger    *zap.Logger
	cfg       Config
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the analyzer's time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an analyzer. A nil extractor disables the AI path.
func New(ext extraction.Extractor, defs *signals.Cache, st *store.Store, logger *zap.Logger, cfg Config, opts ...Option) (*Analyzer, error) {
	if defs == nil {
		return nil, errors.New("definition cache is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if ext == nil {
		ext = &extraction.NoOpExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	a := &Analyzer{
		extractor: ext,
		defs:      defs,
		store:     st,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Version returns the analysis version stamped on snapshots.
func (a *Analyzer) Version() string {
	return a.cfg.Version
}

// NeedsAnalysis reports whether a thread has no snapshot, a snapshot from
// another version, or messages newer than its snapshot.
func (a *Analyzer) NeedsAnalysis(t *store.Thread) bool {
	if t.LastAnalyzedAt == nil || t.AnalysisVersion != a.cfg.Version {
		return true
	}
	return t.LastMessageAt != nil && t.LastMessageAt.After(*t.LastAnalyzedAt)
}

// Analyze produces an analysis for msgs, which must be ordered oldest
// first. It only fails when the definition table cannot be loaded or ctx
// is cancelled.
func (a *Analyzer) Analyze(ctx context.Context, msgs []thread.Message) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.Analyze",
		trace.WithAttributes(attribute.Int("messages", len(msgs))))
	defer span.End()

	table, err := a.defs.Table(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "definitions unavailable")
		return nil, fmt.Errorf("loading status definitions: %w", err)
	}

	if len(msgs) == 0 {
		metrics.RecordAnalysis(string(thread.SourceNone))
		return &Result{Analysis: emptyAnalysis()}, nil
	}

	ai := a.extract(ctx, msgs, table.Slugs())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	if ai.HasStatus() {
		ai.Source = thread.SourceAI
		res = &Result{Analysis: ai, Trigger: triggerFor(ai, msgs)}
	} else {
		res = fallback(table, msgs)
		if ai != nil {
			res.Analysis.ProjectSignals = ai.ProjectSignals
			res.Analysis.ProjectConfidence = ai.ProjectConfidence
			res.Analysis.SupplierSignals = ai.SupplierSignals
		}
	}

	metrics.RecordAnalysis(string(res.Analysis.Source))
	span.SetAttributes(
		attribute.String("source", string(res.Analysis.Source)),
		attribute.String("status", res.Analysis.CurrentStatus),
	)
	return res, nil
}

// extract runs the AI extractor under the configured timeout. It returns
// nil when no usable reply was produced.
func (a *Analyzer) extract(ctx context.Context, msgs []thread.Message, slugs []string) *thread.Analysis {
	if !a.extractor.Available() {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := a.extractor.Extract(callCtx, extraction.Request{Messages: msgs, Statuses: slugs})
	metrics.RecordExtraction(time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("AI extraction failed, using signal matcher",
				zap.Error(err), zap.Duration("timeout", a.cfg.Timeout))
		}
		return nil
	}
	return out
}

// fallback runs the signal matcher over the thread. A match produces a
// single detection pointing at the newest message.
func fallback(table *signals.Table, msgs []thread.Message) *Result {
	res := &Result{Analysis: emptyAnalysis()}
	res.Analysis.Source = thread.SourceFallback

	match, matched, ok := table.MatchThread(msgs)
	if !ok {
		return res
	}

	newest := msgs[len(msgs)-1]
	res.Analysis.CurrentStatus = match.Slug
	res.Analysis.StatusProgression = []thread.StatusDetection{{
		StatusSlug:     match.Slug,
		MessageIndex:   newest.Index,
		MatchedSignals: match.MatchedSignals,
		Confidence:     match.Confidence,
		Direction:      newest.Direction,
		Timestamp:      newest.SentAt,
	}}
	res.Trigger = matched
	return res
}

// triggerFor picks the message behind the strongest detection of the
// current status.
func triggerFor(a *thread.Analysis, msgs []thread.Message) thread.Message {
	best := -1
	var conf float64
	for _, d := range a.StatusProgression {
		if d.StatusSlug != a.CurrentStatus {
			continue
		}
		if best < 0 || d.Confidence > conf {
			best, conf = d.MessageIndex, d.Confidence
		}
	}
	if best >= 0 && best < len(msgs) {
		return msgs[best]
	}
	return thread.Message{}
}

func emptyAnalysis() *thread.Analysis {
	return &thread.Analysis{
		StatusProgression: []thread.StatusDetection{},
		Source:            thread.SourceNone,
	}
}
