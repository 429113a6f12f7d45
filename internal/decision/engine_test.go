package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/store/storetest"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	changes   []store.StatusChange
	proposals []store.Proposal
}

func (r *recorder) StatusApplied(_ context.Context, c store.StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) ProposalChanged(_ context.Context, p store.Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals = append(r.proposals, p)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *Engine
	store  *store.Store
	events *recorder
	clock  *clock
	relID  string
}

func newFixture(t *testing.T, initial string) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storetest.New(t)

	sup := &store.Supplier{Name: "Bloom Florals"}
	require.NoError(t, st.CreateSupplier(ctx, sup))
	proj := &store.Project{Name: "Smith Wedding"}
	require.NoError(t, st.CreateProject(ctx, proj))
	rel, err := st.EnsureRelationship(ctx, sup.ID, proj.ID, initial)
	require.NoError(t, err)

	f := &fixture{store: st, events: &recorder{}, clock: &clock{now: t0}, relID: rel.ID}
	cache := signals.NewCache(signals.StaticSource(signals.DefaultDefinitions()))
	f.engine, err = New(st, cache, zaptest.NewLogger(t), DefaultConfig(),
		WithClock(f.clock.Now), WithNotifier(f.events))
	require.NoError(t, err)
	return f
}

func analysis(slug string, confidence float64, signals ...string) *thread.Analysis {
	return &thread.Analysis{
		CurrentStatus: slug,
		StatusProgression: []thread.StatusDetection{{
			StatusSlug:     slug,
			MessageIndex:   2,
			Confidence:     confidence,
			Direction:      thread.Inbound,
			MatchedSignals: signals,
		}},
		Source: thread.SourceAI,
	}
}

func TestLatestDetection(t *testing.T) {
	a := &thread.Analysis{
		CurrentStatus: "booked",
		StatusProgression: []thread.StatusDetection{
			{StatusSlug: "booked", MessageIndex: 1, Confidence: 0.7},
			{StatusSlug: "negotiating", MessageIndex: 2, Confidence: 0.99},
			{StatusSlug: "booked", MessageIndex: 3, Confidence: 0.9},
			{StatusSlug: "booked", MessageIndex: 4, Confidence: 0.9},
		},
	}
	det, ok := LatestDetection(a)
	require.True(t, ok)
	assert.Equal(t, 3, det.MessageIndex, "highest confidence, first occurrence wins ties")

	_, ok = LatestDetection(&thread.Analysis{})
	assert.False(t, ok)

	_, ok = LatestDetection(&thread.Analysis{
		CurrentStatus:     "booked",
		StatusProgression: []thread.StatusDetection{{StatusSlug: "negotiating", Confidence: 0.9}},
	})
	assert.False(t, ok, "current status without a matching detection")
}

func TestProcess_AutoApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "rfq-sent")

	out, err := f.engine.Process(ctx, "thread-1", analysis("quote-received", 0.9), []string{f.relID})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindApplied, out[0].Kind)
	assert.Equal(t, "rfq-sent", out[0].FromStatus)

	rel, err := f.store.GetRelationship(ctx, f.relID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", rel.StatusSlug)

	history, err := f.store.ListStatusChanges(ctx, f.relID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.ChangedBySystem, history[0].ChangedBy)
	assert.Equal(t, "rfq-sent", history[0].FromStatus)
	assert.Contains(t, history[0].Reason, "0.90")
	require.NotNil(t, history[0].ThreadID)
	assert.Equal(t, "thread-1", *history[0].ThreadID)

	assert.Len(t, f.events.changes, 1)
}

func TestProcess_CreatesProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "rfq-sent")

	out, err := f.engine.Process(ctx, "thread-1", analysis("quote-received", 0.6, "our quote"), []string{f.relID})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindProposed, out[0].Kind)

	pending, err := f.store.ListProposals(ctx, store.ProposalFilter{State: store.ProposalPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	p := pending[0]
	assert.Equal(t, "rfq-sent", p.FromStatus)
	assert.Equal(t, "quote-received", p.ToStatus)
	assert.Equal(t, p.CreatedAt.Add(7*24*time.Hour), p.ExpiresAt)
	assert.Contains(t, p.Reasoning, "our quote")
	assert.Equal(t, []string{"our quote"}, []string(p.MatchedSignals))

	rel, err := f.store.GetRelationship(ctx, f.relID)
	require.NoError(t, err)
	assert.Equal(t, "rfq-sent", rel.StatusSlug, "no mutation until accepted")
	assert.Len(t, f.events.proposals, 1)
}

func TestProcess_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       Kind
	}{
		{"exactly auto threshold applies", 0.85, KindApplied},
		{"matcher ceiling proposes", signals.MaxConfidence, KindProposed},
		{"exactly proposal threshold proposes", 0.50, KindProposed},
		{"below proposal threshold is dropped", 0.49, KindBelowThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "negotiating")
			out, err := f.engine.Process(context.Background(), "th", analysis("booked", tt.confidence), []string{f.relID})
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Kind)
		})
	}
}

func TestProcess_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "rfq-sent")

	first, err := f.engine.Process(ctx, "th", analysis("quote-received", 0.7), []string{f.relID})
	require.NoError(t, err)
	assert.Equal(t, KindProposed, first[0].Kind)

	second, err := f.engine.Process(ctx, "th", analysis("quote-received", 0.7), []string{f.relID})
	require.NoError(t, err)
	assert.Equal(t, KindPendingExists, second[0].Kind)
	assert.False(t, second[0].Mutated())

	applied, err := f.engine.Process(ctx, "th", analysis("negotiating", 0.95), []string{f.relID})
	require.NoError(t, err)
	assert.Equal(t, KindApplied, applied[0].Kind)

	again, err := f.engine.Process(ctx, "th", analysis("negotiating", 0.95), []string{f.relID})
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyAtTarget, again[0].Kind)

	history, err := f.store.ListStatusChanges(ctx, f.relID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProcess_UnknownAndMissingStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "rfq-sent")

	out, err := f.engine.Process(ctx, "th", analysis("on-hold", 0.99), []string{f.relID})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindUnknownStatus, out[0].Kind)

	out, err = f.engine.Process(ctx, "th", &thread.Analysis{}, []string{f.relID})
	require.NoError(t, err)
	assert.Empty(t, out)

	rel, err := f.store.GetRelationship(ctx, f.relID)
	require.NoError(t, err)
	assert.Equal(t, "rfq-sent", rel.StatusSlug)
}

func TestProcess_MissingRelationship(t *testing.T) {
	f := newFixture(t, "rfq-sent")
	out, err := f.engine.Process(context.Background(), "th", analysis("booked", 0.9), []string{"missing", f.relID})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, IsRetryable(err))
	require.Len(t, out, 1, "other relationships are still processed")
	assert.Equal(t, KindApplied, out[0].Kind)
}

func TestProcess_ConcurrentSingleProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "rfq-sent")

	var wg sync.WaitGroup
	kinds := make([]Kind, 8)
	for i := range kinds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.engine.Process(ctx, "th", analysis("quote-received", 0.7), []string{f.relID})
			if assert.NoError(t, err) && assert.Len(t, out, 1) {
				kinds[i] = out[0].Kind
			}
		}(i)
	}
	wg.Wait()

	proposed := 0
	for _, k := range kinds {
		if k == KindProposed {
			proposed++
		} else {
			assert.Equal(t, KindPendingExists, k)
		}
	}
	assert.Equal(t, 1, proposed)

	pending, err := f.store.ListProposals(ctx, store.ProposalFilter{RelationshipID: f.relID})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNew_InvalidConfig(t *testing.T) {
	st := storetest.New(t)
	cache := signals.NewCache(signals.StaticSource(signals.DefaultDefinitions()))

	cfg := DefaultConfig()
	cfg.ProposalThreshold = 0.9
	_, err := New(st, cache, nil, cfg)
	assert.Error(t, err)

	_, err = New(nil, cache, nil, DefaultConfig())
	assert.Error(t, err)
}
