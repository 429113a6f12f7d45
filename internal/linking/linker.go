package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

const instrumentationName = "github.com/fyrsmithlabs/vendorflow/internal/linking"

// ErrNotCandidate is returned by ManualLink when the project is unknown.
var ErrNotCandidate = errors.New("project is not a link candidate")

// Config holds the linking constants.
type Config struct {
	// AutoLinkScore is the minimum top score for an automatic link.
	AutoLinkScore float64 `koanf:"auto_link_score"`
	// Margin is the minimum lead of the top candidate over the runner-up.
	Margin float64 `koanf:"margin"`
	// LiveWindow is how far in the past a dated project stays linkable.
	LiveWindow time.Duration `koanf:"live_window"`
}

// DefaultConfig returns the production linking constants.
func DefaultConfig() Config {
	return Config{AutoLinkScore: 0.80, Margin: 0.20, LiveWindow: 30 * 24 * time.Hour}
}

// Result is a linking decision. ProjectID is only set for AUTO.
type Result struct {
	Decision   Decision    `json:"decision"`
	ProjectID  string      `json:"projectId,omitempty"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates"`
}

// Notifier receives committed links.
type Notifier interface {
	ThreadLinked(ctx context.Context, threadID, projectID string, method store.LinkMethod, confidence float64)
}

type nopNotifier struct{}

func (nopNotifier) ThreadLinked(context.Context, string, string, store.LinkMethod, float64) {}

// Linker scores threads against live projects and records links.
type Linker struct {
	store    *store.Store
	logger   *zap.Logger
	cfg      Config
	notifier Notifier
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Linker.
type Option func(*Linker)

// WithClock overrides the linker's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Linker) { l.now = now }
}

// WithNotifier sets the receiver of committed links.
func WithNotifier(n Notifier) Option {
	return func(l *Linker) {
		if n != nil {
			l.notifier = n
		}
	}
}

// New creates a linker.
func New(st *store.Store, logger *zap.Logger, cfg Config, opts ...Option) (*Linker, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg.AutoLinkScore <= 0 || cfg.AutoLinkScore > 1 || cfg.Margin < 0 || cfg.LiveWindow <= 0 {
		return nil, fmt.Errorf("invalid linking config: %+v", cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Linker{
		store:    st,
		logger:   logger,
		cfg:      cfg,
		notifier: nopNotifier{},
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Candidates scores a thread without recording anything.
func (l *Linker) Candidates(ctx context.Context, msgs []thread.Message, signals thread.ProjectSignals) (*Result, error) {
	ctx, span := l.tracer.Start(ctx, "linking.Candidates", trace.WithAttributes(attribute.Int("messages", len(msgs))))
	defer span.End()

	now := l.now().UTC()
	projects, err := l.store.ListLiveProjects(ctx, now.Add(-l.cfg.LiveWindow))
	if err != nil {
		return nil, fmt.Errorf("listing live projects: %w", err)
	}

	supplierIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range msgs {
		if m.SupplierID != "" && !seen[m.SupplierID] {
			seen[m.SupplierID] = true
			supplierIDs = append(supplierIDs, m.SupplierID)
		}
	}
	related, err := l.store.ProjectIDsForSuppliers(ctx, supplierIDs)
	if err != nil {
		return nil, fmt.Errorf("loading supplier projects: %w", err)
	}

	res := Decide(Score(projects, InputFromMessages(msgs, signals, related), now), l.cfg)
	span.SetAttributes(
		attribute.String("decision", string(res.Decision)),
		attribute.Int("candidates", len(res.Candidates)),
	)
	return &res, nil
}

// Link scores a thread and, on an AUTO decision, records the project on
// the thread and back-fills its unlinked messages.
func (l *Linker) Link(ctx context.Context, threadID string, msgs []thread.Message, signals thread.ProjectSignals) (*Result, error) {
	res, err := l.Candidates(ctx, msgs, signals)
	if err != nil {
		return nil, err
	}
	metrics.RecordLinkDecision(string(res.Decision))

	if res.Decision != DecisionAuto {
		l.logger.Debug("thread not auto-linked",
			zap.String("thread_id", threadID),
			zap.String("decision", string(res.Decision)),
			zap.Int("candidates", len(res.Candidates)))
		return res, nil
	}

	filled, err := l.store.LinkThreadProject(ctx, threadID, res.ProjectID, res.Confidence, store.LinkAuto)
	if err != nil {
		return nil, fmt.Errorf("linking thread: %w", err)
	}
	l.logger.Info("thread auto-linked",
		zap.String("thread_id", threadID),
		zap.String("project_id", res.ProjectID),
		zap.Float64("score", res.Confidence),
		zap.Int64("messages_backfilled", filled))
	l.notifier.ThreadLinked(ctx, threadID, res.ProjectID, store.LinkAuto, res.Confidence)
	return res, nil
}

// ManualLink records a person's choice of project for a thread.
func (l *Linker) ManualLink(ctx context.Context, threadID, projectID string) error {
	if _, err := l.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("project %s: %w", projectID, ErrNotCandidate)
		}
		return err
	}
	filled, err := l.store.LinkThreadProject(ctx, threadID, projectID, 1.0, store.LinkManual)
	if err != nil {
		return err
	}
	l.logger.Info("thread linked manually",
		zap.String("thread_id", threadID),
		zap.String("project_id", projectID),
		zap.Int64("messages_backfilled", filled))
	l.notifier.ThreadLinked(ctx, threadID, projectID, store.LinkManual, 1.0)
	return nil
}
