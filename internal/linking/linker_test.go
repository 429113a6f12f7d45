package linking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/store/storetest"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

type linkEvent struct {
	threadID, projectID string
	method              store.LinkMethod
}

type recorder struct{ events []linkEvent }

func (r *recorder) ThreadLinked(_ context.Context, threadID, projectID string, method store.LinkMethod, _ float64) {
	r.events = append(r.events, linkEvent{threadID, projectID, method})
}

type linkFixture struct {
	linker   *Linker
	store    *store.Store
	events   *recorder
	supplier *store.Supplier
	thread   *store.Thread
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	ctx := context.Background()
	st := storetest.New(t)
	f := &linkFixture{store: st, events: &recorder{}}

	f.supplier = &store.Supplier{Name: "Bloom Florals"}
	require.NoError(t, st.CreateSupplier(ctx, f.supplier))
	f.thread = &store.Thread{Subject: "Flowers"}
	require.NoError(t, st.CreateThread(ctx, f.thread))

	var err error
	f.linker, err = New(st, zaptest.NewLogger(t), DefaultConfig(),
		WithClock(func() time.Time { return now }), WithNotifier(f.events))
	require.NoError(t, err)
	return f
}

func (f *linkFixture) project(t *testing.T, name string, date *time.Time) *store.Project {
	t.Helper()
	p := &store.Project{Name: name, EventDate: date}
	require.NoError(t, f.store.CreateProject(context.Background(), p))
	return p
}

func (f *linkFixture) messages(t *testing.T, supplierID string, texts ...string) []thread.Message {
	t.Helper()
	ctx := context.Background()
	rows := make([]*store.Message, len(texts))
	for i, text := range texts {
		rows[i] = &store.Message{Direction: thread.Inbound, CleanedContent: text, SentAt: now.Add(time.Duration(i) * time.Minute)}
		if supplierID != "" {
			rows[i].SupplierID = &supplierID
		}
	}
	require.NoError(t, f.store.AddMessages(ctx, f.thread.ID, rows))
	stored, err := f.store.ListMessages(ctx, f.thread.ID)
	require.NoError(t, err)
	out := make([]thread.Message, len(stored))
	for i := range stored {
		out[i] = stored[i].ToThreadMessage(i)
	}
	return out
}

func TestLink_AutoBackfillsMessages(t *testing.T) {
	ctx := context.Background()
	f := newLinkFixture(t)
	wedding := f.project(t, "Smith Wedding", day(20))
	f.project(t, "Jones Anniversary", nil)
	_, err := f.store.EnsureRelationship(ctx, f.supplier.ID, wedding.ID, "inquiry-sent")
	require.NoError(t, err)

	msgs := f.messages(t, f.supplier.ID, "Peonies for the Smith wedding?", "Sure, quote attached.")

	res, err := f.linker.Link(ctx, f.thread.ID, msgs, thread.ProjectSignals{})
	require.NoError(t, err)
	assert.Equal(t, DecisionAuto, res.Decision)
	assert.Equal(t, wedding.ID, res.ProjectID)
	assert.InDelta(t, 0.90, res.Confidence, 1e-9)

	th, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	require.NotNil(t, th.DetectedProjectID)
	assert.Equal(t, wedding.ID, *th.DetectedProjectID)
	assert.Equal(t, store.LinkAuto, th.ProjectLinkMethod)

	stored, err := f.store.ListMessages(ctx, f.thread.ID)
	require.NoError(t, err)
	for _, m := range stored {
		require.NotNil(t, m.ProjectID)
		assert.Equal(t, wedding.ID, *m.ProjectID)
		assert.Equal(t, store.LinkAuto, m.ProjectLinkMethod)
	}
	require.Len(t, f.events.events, 1)
	assert.Equal(t, store.LinkAuto, f.events.events[0].method)
}

func TestLink_AmbiguousHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newLinkFixture(t)
	f.project(t, "Smith Wedding", nil)
	f.project(t, "Smith Wedding Rehearsal", nil)

	msgs := f.messages(t, "", "About the Smith wedding flowers")
	res, err := f.linker.Link(ctx, f.thread.ID, msgs, thread.ProjectSignals{})
	require.NoError(t, err)
	assert.Equal(t, DecisionAmbiguous, res.Decision)
	assert.Len(t, res.Candidates, 2)
	assert.Empty(t, res.ProjectID)

	th, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Nil(t, th.DetectedProjectID)
	assert.Empty(t, f.events.events)
}

func TestLink_NoMatch(t *testing.T) {
	ctx := context.Background()
	f := newLinkFixture(t)
	f.project(t, "Corporate Retreat", nil)
	f.project(t, "Old Party", day(-45))

	msgs := f.messages(t, "", "Hello, do you deliver on weekends?")
	res, err := f.linker.Link(ctx, f.thread.ID, msgs, thread.ProjectSignals{})
	require.NoError(t, err)
	assert.Equal(t, DecisionNoMatch, res.Decision)
	assert.Empty(t, res.Candidates)
}

func TestCandidates_SkipsStaleProjects(t *testing.T) {
	f := newLinkFixture(t)
	f.project(t, "Harvest Festival", day(-40))
	recent := f.project(t, "Harvest Dinner", day(-10))

	res, err := f.linker.Candidates(context.Background(),
		[]thread.Message{{Content: "harvest festival and harvest dinner"}}, thread.ProjectSignals{})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, recent.ID, res.Candidates[0].ProjectID)
}

func TestManualLink(t *testing.T) {
	ctx := context.Background()
	f := newLinkFixture(t)
	p := f.project(t, "Gala", nil)
	f.messages(t, "", "hi")

	require.NoError(t, f.linker.ManualLink(ctx, f.thread.ID, p.ID))
	th, err := f.store.GetThread(ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, store.LinkManual, th.ProjectLinkMethod)
	assert.Equal(t, 1.0, th.ProjectConfidence)

	assert.ErrorIs(t, f.linker.ManualLink(ctx, f.thread.ID, "missing"), ErrNotCandidate)
	assert.ErrorIs(t, f.linker.ManualLink(ctx, "missing", p.ID), store.ErrNotFound)
}
