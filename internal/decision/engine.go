package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/lock"
	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

const instrumentationName = "github.com/fyrsmithlabs/vendorflow/internal/decision"

// ResolvedBySweep marks proposals retired by the expiry sweep.
const ResolvedBySweep = "SYSTEM_EXPIRY"

// Kind classifies what happened to one relationship.
type Kind string

const (
	KindApplied         Kind = "applied"
	KindProposed        Kind = "proposed"
	KindBelowThreshold  Kind = "below_threshold"
	KindAlreadyAtTarget Kind = "already_at_target"
	KindPendingExists   Kind = "pending_exists"
	KindUnknownStatus   Kind = "unknown_status"
	KindNoStatus        Kind = "no_status"
)

// Outcome is the decision taken for one relationship.
type Outcome struct {
	RelationshipID string              `json:"relationshipId,omitempty"`
	Kind           Kind                `json:"kind"`
	FromStatus     string              `json:"fromStatus,omitempty"`
	ToStatus       string              `json:"toStatus,omitempty"`
	Confidence     float64             `json:"confidence"`
	Change         *store.StatusChange `json:"change,omitempty"`
	Proposal       *store.Proposal     `json:"proposal,omitempty"`
}

// Mutated reports whether the outcome wrote anything.
func (o Outcome) Mutated() bool {
	return o.Kind == KindApplied || o.Kind == KindProposed
}

// Notifier receives committed changes. Implementations must not block.
type Notifier interface {
	StatusApplied(ctx context.Context, change store.StatusChange)
	ProposalChanged(ctx context.Context, p store.Proposal)
}

type nopNotifier struct{}

func (nopNotifier) StatusApplied(context.Context, store.StatusChange) {}
func (nopNotifier) ProposalChanged(context.Context, store.Proposal)  {}

// Engine applies the decision rules and manages proposals.
type Engine struct {
	store    *store.Store
	defs     *signals.Cache
	locker   lock.Locker
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the receiver of committed changes.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLocker replaces the in-process relationship lock.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// New creates an engine.
func New(st *store.Store, defs *signals.Cache, logger *zap.Logger, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if defs == nil {
		return nil, errors.New("definition cache is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    st,
		defs:     defs,
		locker:   lock.NewLocal(),
		notifier: nopNotifier{},
		logger:   logger,
		cfg:      cfg,
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// LatestDetection returns the strongest detection of the analysis'
// current status. The first occurrence wins ties.
func LatestDetection(a *thread.Analysis) (thread.StatusDetection, bool) {
	var best thread.StatusDetection
	found := false
	if !a.HasStatus() {
		return best, false
	}
	for _, d := range a.StatusProgression {
		if d.StatusSlug != a.CurrentStatus {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}

// Process decides, for each relationship implicated by the thread, what
// to do with the analysis' latest detection. Relationships are handled
// independently; failures are joined and returned as RetryableError
// alongside the outcomes that did succeed.
func (e *Engine) Process(ctx context.Context, threadID string, a *thread.Analysis, relationshipIDs []string) ([]Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "decision.Process", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.Int("relationships", len(relationshipIDs)),
	))
	defer span.End()

	det, ok := LatestDetection(a)
	if !ok {
		metrics.RecordDecision(string(KindNoStatus))
		return nil, nil
	}

	table, err := e.defs.Table(ctx)
	if err != nil {
		return nil, Retryable("loading status definitions", err)
	}
	if _, known := table.Lookup(det.StatusSlug); !known {
		e.logger.Warn("detected status is not defined, discarding",
			zap.String("thread_id", threadID),
			zap.String("status", det.StatusSlug),
			zap.Float64("confidence", det.Confidence))
		metrics.RecordDecision(string(KindUnknownStatus))
		return []Outcome{{Kind: KindUnknownStatus, ToStatus: det.StatusSlug, Confidence: det.Confidence}}, nil
	}

	outcomes := make([]Outcome, 0, len(relationshipIDs))
	var errs []error
	for _, relID := range relationshipIDs {
		out, err := e.decide(ctx, threadID, relID, det)
		if err != nil {
			span.RecordError(err)
			e.logger.Error("decision failed",
				zap.String("thread_id", threadID),
				zap.String("relationship_id", relID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.RecordDecision(string(out.Kind))
		outcomes = append(outcomes, out)
	}
	return outcomes, errors.Join(errs...)
}

func (e *Engine) decide(ctx context.Context, threadID, relID string, det thread.StatusDetection) (Outcome, error) {
	release, err := e.locker.Lock(ctx, lockKey(relID))
	if err != nil {
		return Outcome{}, Retryable("locking relationship "+relID, err)
	}
	defer release()

	out := Outcome{RelationshipID: relID, ToStatus: det.StatusSlug, Confidence: det.Confidence}
	now := e.now().UTC()

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		rel, err := tx.LockRelationship(ctx, relID)
		if err != nil {
			return err
		}
		out.FromStatus = rel.StatusSlug

		if rel.StatusSlug == det.StatusSlug {
			out.Kind = KindAlreadyAtTarget
			return nil
		}
		pending, err := tx.FindPendingProposal(ctx, relID, det.StatusSlug)
		if err != nil {
			return err
		}
		if pending != nil {
			out.Kind = KindPendingExists
			out.Proposal = pending
			return nil
		}

		switch {
		case det.Confidence >= e.cfg.AutoApplyThreshold:
			change, err := tx.ApplyTransition(ctx, store.StatusTransition{
				RelationshipID: relID,
				FromStatus:     rel.StatusSlug,
				ToStatus:       det.StatusSlug,
				ChangedBy:      store.ChangedBySystem,
				Reason:         autoReason(det),
				ThreadID:       threadID,
				At:             now,
			})
			if err != nil {
				return err
			}
			out.Kind = KindApplied
			out.Change = change
		case det.Confidence >= e.cfg.ProposalThreshold:
			p := &store.Proposal{
				RelationshipID: relID,
				ThreadID:       threadID,
				FromStatus:     rel.StatusSlug,
				ToStatus:       det.StatusSlug,
				Confidence:     det.Confidence,
				MatchedSignals: append([]string{}, det.MatchedSignals...),
				Reasoning:      proposalReason(det),
				CreatedAt:      now,
				ExpiresAt:      now.Add(e.cfg.ProposalTTL),
			}
			if err := tx.CreateProposal(ctx, p); err != nil {
				return err
			}
			out.Kind = KindProposed
			out.Proposal = p
		default:
			out.Kind = KindBelowThreshold
		}
		return nil
	})

	switch {
	case errors.Is(err, store.ErrDuplicatePending):
		// Another writer created the same proposal after our check.
		e.logger.Debug("proposal created concurrently", zap.String("relationship_id", relID))
		return Outcome{RelationshipID: relID, Kind: KindPendingExists, FromStatus: out.FromStatus, ToStatus: det.StatusSlug, Confidence: det.Confidence}, nil
	case errors.Is(err, store.ErrNotFound):
		return Outcome{}, err
	case err != nil:
		return Outcome{}, Retryable("deciding relationship "+relID, err)
	}

	e.logObserved(out)
	switch out.Kind {
	case KindApplied:
		e.notifier.StatusApplied(ctx, *out.Change)
	case KindProposed:
		e.notifier.ProposalChanged(ctx, *out.Proposal)
	}
	return out, nil
}

func (e *Engine) logObserved(out Outcome) {
	fields := []zap.Field{
		zap.String("relationship_id", out.RelationshipID),
		zap.String("from", out.FromStatus),
		zap.String("to", out.ToStatus),
		zap.Float64("confidence", out.Confidence),
	}
	switch out.Kind {
	case KindApplied:
		e.logger.Info("status auto-applied", fields...)
	case KindProposed:
		e.logger.Info("status proposal created", fields...)
	default:
		e.logger.Debug("status detection skipped", append(fields, zap.String("kind", string(out.Kind)))...)
	}
}

func lockKey(relationshipID string) string {
	return "relationship:" + relationshipID
}

func describeSignals(det thread.StatusDetection) string {
	if len(det.MatchedSignals) == 0 {
		return "AI extraction"
	}
	return "signals: " + strings.Join(det.MatchedSignals, ", ")
}

func autoReason(det thread.StatusDetection) string {
	return fmt.Sprintf("Auto-applied %q at confidence %.2f (%s)", det.StatusSlug, det.Confidence, describeSignals(det))
}

func proposalReason(det thread.StatusDetection) string {
	return fmt.Sprintf("Detected %q at confidence %.2f (%s)", det.StatusSlug, det.Confidence, describeSignals(det))
}
