package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vendorflow/internal/analyzer"
	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/extraction"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/store/storetest"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

var now = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

type env struct {
	svc      *Service
	store    *store.Store
	supplier *store.Supplier
	project  *store.Project
}

func newEnv(t *testing.T, ext extraction.Extractor) *env {
	t.Helper()
	ctx := context.Background()
	st := storetest.New(t)
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return now }
	cache := signals.NewCache(signals.StaticSource(signals.DefaultDefinitions()))

	an, err := analyzer.New(ext, cache, st, logger, analyzer.Config{Version: "test"}, analyzer.WithClock(clock))
	require.NoError(t, err)
	ln, err := linking.New(st, logger, linking.DefaultConfig(), linking.WithClock(clock))
	require.NoError(t, err)
	en, err := decision.New(st, cache, logger, decision.DefaultConfig(), decision.WithClock(clock))
	require.NoError(t, err)
	svc, err := NewService(st, an, ln, en, logger)
	require.NoError(t, err)

	e := &env{svc: svc, store: st}
	e.supplier = &store.Supplier{Name: "Bloom Florals"}
	require.NoError(t, st.CreateSupplier(ctx, e.supplier))
	date := now.AddDate(0, 0, 20)
	e.project = &store.Project{Name: "Smith Wedding", EventDate: &date}
	require.NoError(t, st.CreateProject(ctx, e.project))
	return e
}

func (e *env) thread(t *testing.T, supplierID string, texts ...string) string {
	t.Helper()
	ctx := context.Background()
	th := &store.Thread{Subject: "Flowers"}
	require.NoError(t, e.store.CreateThread(ctx, th))
	rows := make([]*store.Message, len(texts))
	for i, text := range texts {
		rows[i] = &store.Message{
			Direction:      thread.Inbound,
			CleanedContent: text,
			SentAt:         now.Add(-time.Duration(len(texts)-i) * time.Hour),
		}
		if supplierID != "" {
			rows[i].SupplierID = &supplierID
		}
	}
	require.NoError(t, e.store.AddMessages(ctx, th.ID, rows))
	return th.ID
}

func quoteReceived(confidence float64) extraction.Extractor {
	return extraction.Func(func(_ context.Context, req extraction.Request) (*thread.Analysis, error) {
		last := req.Messages[len(req.Messages)-1]
		return &thread.Analysis{
			CurrentStatus: "quote-received",
			StatusProgression: []thread.StatusDetection{{
				StatusSlug:   "quote-received",
				MessageIndex: last.Index,
				Confidence:   confidence,
				Direction:    thread.Inbound,
			}},
		}, nil
	})
}

func TestProcessThread_AutoApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quoteReceived(0.9))
	rel, err := e.store.EnsureRelationship(ctx, e.supplier.ID, e.project.ID, "rfq-sent")
	require.NoError(t, err)

	id := e.thread(t, e.supplier.ID, "Could you quote the Smith wedding?", "Sure, numbers below.")

	first, err := e.svc.ProcessThread(ctx, id, Options{})
	require.NoError(t, err)
	assert.True(t, first.Reanalyzed)
	require.NotNil(t, first.Link)
	assert.Equal(t, linking.DecisionAuto, first.Link.Decision)
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, decision.KindApplied, first.Outcomes[0].Kind)
	assert.Equal(t, 1, first.Mutations())

	got, err := e.store.GetRelationship(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", got.StatusSlug)

	second, err := e.svc.ProcessThread(ctx, id, Options{})
	require.NoError(t, err)
	assert.False(t, second.Reanalyzed)
	assert.Nil(t, second.Link, "linked threads are not re-linked")
	assert.Zero(t, second.Mutations())

	history, err := e.store.ListStatusChanges(ctx, rel.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	proposals, err := e.store.ListProposals(ctx, store.ProposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestProcessThread_FallbackProposes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	_, err := e.store.EnsureRelationship(ctx, e.supplier.ID, e.project.ID, "rfq-sent")
	require.NoError(t, err)

	id := e.thread(t, e.supplier.ID, "Smith wedding flowers", "Hello! Quote attached.")

	first, err := e.svc.ProcessThread(ctx, id, Options{})
	require.NoError(t, err)
	assert.Equal(t, thread.SourceFallback, first.Analysis.Source)
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, decision.KindProposed, first.Outcomes[0].Kind)

	forced, err := e.svc.ProcessThread(ctx, id, Options{Force: true})
	require.NoError(t, err)
	assert.True(t, forced.Reanalyzed)
	assert.Zero(t, forced.Mutations())
	assert.Equal(t, decision.KindPendingExists, forced.Outcomes[0].Kind)

	proposals, err := e.store.ListProposals(ctx, store.ProposalFilter{State: store.ProposalPending})
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestProcessThread_NewRelationshipStartsEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quoteReceived(0.95))

	id := e.thread(t, e.supplier.ID, "Quote for the Smith wedding")
	require.NoError(t, e.svc.linker.ManualLink(ctx, id, e.project.ID))

	report, err := e.svc.ProcessThread(ctx, id, Options{})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, decision.KindApplied, report.Outcomes[0].Kind)
	assert.Empty(t, report.Outcomes[0].FromStatus)

	rel, err := e.store.FindRelationship(ctx, e.supplier.ID, e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", rel.StatusSlug)
}

func TestProcessThread_NoMatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	require.NoError(t, e.store.DB().Delete(&store.Project{}, "id = ?", e.project.ID).Error)

	id := e.thread(t, "", "Hi there, are you open on Sundays?")
	report, err := e.svc.ProcessThread(ctx, id, Options{})
	require.NoError(t, err)
	require.NotNil(t, report.Link)
	assert.Equal(t, linking.DecisionNoMatch, report.Link.Decision)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, report.Mutations())
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.thread(t, "", "booking confirmed")
	b := e.thread(t, "", "thanks for reaching out")

	reports, err := e.svc.ProcessBatch(ctx, []string{a, "missing", b}, Options{}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, reports, 3)
	assert.NotNil(t, reports[0])
	assert.Nil(t, reports[1])
	assert.NotNil(t, reports[2])
	assert.Equal(t, "inquiry-sent", reports[2].Analysis.CurrentStatus)
}

func TestProcessStale(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.thread(t, "", "booking confirmed")
	e.thread(t, "", "final invoice attached")

	reports, err := e.svc.ProcessStale(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	reports, err = e.svc.ProcessStale(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
