package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/store/storetest"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

func ptr[T any](v T) *T { return &v }

func seedThread(t *testing.T, s *store.Store) (*store.Thread, []*store.Message) {
	t.Helper()
	ctx := context.Background()

	th := &store.Thread{Subject: "Florals for the gala"}
	require.NoError(t, s.CreateThread(ctx, th))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []*store.Message{
		{Direction: thread.Inbound, CleanedContent: "Our quote is attached", SentAt: base.Add(2 * time.Hour)},
		{Direction: thread.Outbound, CleanedContent: "Could you send a quote?", SentAt: base},
	}
	require.NoError(t, s.AddMessages(ctx, th.ID, msgs))
	return th, msgs
}

func TestThreadsAndMessages(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	th, _ := seedThread(t, s)

	msgs, err := s.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, thread.Outbound, msgs[0].Direction, "oldest first")

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)))

	_, err = s.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	tm := msgs[1].ToThreadMessage(1)
	assert.Equal(t, 1, tm.Index)
	assert.Equal(t, "Our quote is attached", tm.Text())
}

func TestSaveAnalysis(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	th, msgs := seedThread(t, s)

	analysis := &thread.Analysis{
		CurrentStatus: "quote-received",
		Source:        thread.SourceFallback,
		StatusProgression: []thread.StatusDetection{
			{StatusSlug: "quote-received", MessageIndex: 1, Confidence: 0.84, Direction: thread.Inbound},
		},
	}
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	err := s.SaveAnalysis(ctx, store.AnalysisUpdate{
		ThreadID:         th.ID,
		Analysis:         analysis,
		Version:          "v1",
		AnalyzedAt:       now,
		TriggerMessageID: msgs[0].ID,
		HistoryEntry:     &store.ThreadStatusEntry{Status: "quote-received", Source: thread.SourceFallback, DetectedAt: now},
	})
	require.NoError(t, err)

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", got.CurrentStatus)
	assert.Equal(t, "v1", got.AnalysisVersion)
	require.Len(t, got.StatusHistory, 1)

	snap, err := got.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, analysis.StatusProgression, snap.StatusProgression)

	stored, err := s.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", stored[1].DetectedStatus)
	assert.Empty(t, stored[0].DetectedStatus)

	err = s.SaveAnalysis(ctx, store.AnalysisUpdate{ThreadID: "missing", Analysis: analysis, AnalyzedAt: now})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStaleThreadIDs(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	th, _ := seedThread(t, s)

	ids, err := s.StaleThreadIDs(ctx, "v1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{th.ID}, ids, "never analyzed")

	analyzedAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveAnalysis(ctx, store.AnalysisUpdate{ThreadID: th.ID, Analysis: &thread.Analysis{}, Version: "v1", AnalyzedAt: analyzedAt}))

	ids, err = s.StaleThreadIDs(ctx, "v1", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.StaleThreadIDs(ctx, "v2", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{th.ID}, ids, "version changed")

	require.NoError(t, s.AddMessages(ctx, th.ID, []*store.Message{
		{Direction: thread.Inbound, CleanedContent: "Any update?", SentAt: analyzedAt.Add(time.Hour)},
	}))
	ids, err = s.StaleThreadIDs(ctx, "v1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{th.ID}, ids, "new message")
}

func TestLinkThreadProject(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	th, msgs := seedThread(t, s)

	manual := &store.Project{Name: "Other"}
	require.NoError(t, s.CreateProject(ctx, manual))
	require.NoError(t, s.DB().Model(&store.Message{}).Where("id = ?", msgs[0].ID).Update("project_id", manual.ID).Error)

	p := &store.Project{Name: "Spring Gala"}
	require.NoError(t, s.CreateProject(ctx, p))

	filled, err := s.LinkThreadProject(ctx, th.ID, p.ID, 0.9, store.LinkAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(1), filled)

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DetectedProjectID)
	assert.Equal(t, p.ID, *got.DetectedProjectID)
	assert.Equal(t, store.LinkAuto, got.ProjectLinkMethod)

	stored, err := s.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, *stored[0].ProjectID)
	assert.Equal(t, manual.ID, *stored[1].ProjectID, "existing links are kept")

	_, err = s.LinkThreadProject(ctx, "missing", p.ID, 0.9, store.LinkAuto)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListLiveProjects(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateProject(ctx, &store.Project{Name: "Undated"}))
	require.NoError(t, s.CreateProject(ctx, &store.Project{Name: "Recent", EventDate: ptr(now.AddDate(0, 0, -10))}))
	require.NoError(t, s.CreateProject(ctx, &store.Project{Name: "Old", EventDate: ptr(now.AddDate(0, 0, -45))}))
	require.NoError(t, s.CreateProject(ctx, &store.Project{Name: "Upcoming", EventDate: ptr(now.AddDate(0, 1, 0))}))

	live, err := s.ListLiveProjects(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)

	names := make([]string, 0, len(live))
	for _, p := range live {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Recent", "Undated", "Upcoming"}, names)
}

func TestRelationshipsAndTransitions(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	rel, err := s.EnsureRelationship(ctx, "sup-1", "proj-1", "rfq-sent")
	require.NoError(t, err)
	again, err := s.EnsureRelationship(ctx, "sup-1", "proj-1", "inquiry-sent")
	require.NoError(t, err)
	assert.Equal(t, rel.ID, again.ID)
	assert.Equal(t, "rfq-sent", again.StatusSlug)

	projects, err := s.ProjectIDsForSuppliers(ctx, []string{"sup-1", "sup-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"proj-1": true}, projects)

	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	err = s.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockRelationship(ctx, rel.ID)
		require.NoError(t, err)
		_, err = tx.ApplyTransition(ctx, store.StatusTransition{
			RelationshipID: locked.ID,
			FromStatus:     locked.StatusSlug,
			ToStatus:       "quote-received",
			ChangedBy:      store.ChangedBySystem,
			Reason:         "confidence 0.90",
			ThreadID:       "thread-1",
			At:             at,
		})
		return err
	})
	require.NoError(t, err)

	got, err := s.GetRelationship(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote-received", got.StatusSlug)

	_, err = s.ApplyTransition(ctx, store.StatusTransition{RelationshipID: rel.ID, FromStatus: "rfq-sent", ToStatus: "booked", ChangedBy: "x", At: at})
	assert.ErrorIs(t, err, store.ErrConflict)

	history, err := s.ListStatusChanges(ctx, rel.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "rfq-sent", history[0].FromStatus)
	assert.Equal(t, store.ChangedBySystem, history[0].ChangedBy)
	assert.Nil(t, history[0].ProposalID)
	require.NotNil(t, history[0].ThreadID)
}

func TestTransactionRollsBack(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	rel, err := s.EnsureRelationship(ctx, "sup-1", "proj-1", "rfq-sent")
	require.NoError(t, err)

	err = s.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.ApplyTransition(ctx, store.StatusTransition{RelationshipID: rel.ID, FromStatus: "rfq-sent", ToStatus: "booked", ChangedBy: "x", At: time.Now()}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetRelationship(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "rfq-sent", got.StatusSlug)

	history, err := s.ListStatusChanges(ctx, rel.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProposals(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	p := &store.Proposal{
		RelationshipID: "rel-1",
		ThreadID:       "thread-1",
		FromStatus:     "rfq-sent",
		ToStatus:       "quote-received",
		Confidence:     0.6,
		MatchedSignals: []string{"our quote"},
		CreatedAt:      created,
		ExpiresAt:      created.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, s.CreateProposal(ctx, p))
	assert.Equal(t, store.ProposalPending, p.State)

	dup := &store.Proposal{RelationshipID: "rel-1", ToStatus: "quote-received", ExpiresAt: created}
	assert.ErrorIs(t, s.CreateProposal(ctx, dup), store.ErrDuplicatePending)

	other := &store.Proposal{RelationshipID: "rel-1", ToStatus: "booked", ExpiresAt: created.Add(time.Hour)}
	require.NoError(t, s.CreateProposal(ctx, other))

	found, err := s.FindPendingProposal(ctx, "rel-1", "quote-received")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)
	assert.Equal(t, []string{"our quote"}, []string(found.MatchedSignals))

	ok, err := s.ResolveProposal(ctx, p.ID, store.ProposalRejected, "sam", created.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ResolveProposal(ctx, p.ID, store.ProposalAccepted, "sam", created.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "resolved proposals are immutable")

	found, err = s.FindPendingProposal(ctx, "rel-1", "quote-received")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, s.CreateProposal(ctx, &store.Proposal{RelationshipID: "rel-1", ToStatus: "quote-received", ExpiresAt: created.Add(time.Hour)}),
		"a new proposal may follow a resolved one")

	pending, err := s.ListProposals(ctx, store.ProposalFilter{State: store.ProposalPending, RelationshipID: "rel-1"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = s.ResolveProposal(ctx, p.ID, store.ProposalPending, "sam", created)
	assert.Error(t, err)

	_, err = s.GetProposal(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpireProposals(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	stale := &store.Proposal{RelationshipID: "rel-1", ToStatus: "booked", ExpiresAt: now.Add(-time.Minute)}
	fresh := &store.Proposal{RelationshipID: "rel-2", ToStatus: "booked", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateProposal(ctx, stale))
	require.NoError(t, s.CreateProposal(ctx, fresh))

	expired, err := s.ExpireProposals(ctx, now, "sweeper", 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, store.ProposalExpired, expired[0].State)

	expired, err = s.ExpireProposals(ctx, now, "sweeper", 0)
	require.NoError(t, err)
	assert.Empty(t, expired, "sweep is idempotent")

	got, err := s.GetProposal(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ProposalPending, got.State)
}

func TestDefinitions(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	seeded, err := s.SeedDefinitions(ctx, signals.DefaultDefinitions())
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = s.SeedDefinitions(ctx, signals.DefaultDefinitions())
	require.NoError(t, err)
	assert.False(t, seeded)

	src := store.NewDefinitionSource(s)
	defs, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, defs, len(signals.DefaultDefinitions()))
	assert.Equal(t, signals.SlugInquirySent, defs[0].Slug)

	_, err = s.UpsertDefinition(ctx, signals.Definition{
		Slug:           signals.SlugBooked,
		Name:           "Booked",
		Order:          55,
		InboundSignals: []string{"you're all set"},
	})
	require.NoError(t, err)

	defs, err = src.Load(ctx)
	require.NoError(t, err)
	table := signals.NewTable(defs)
	booked, ok := table.Lookup(signals.SlugBooked)
	require.True(t, ok)
	assert.Equal(t, 55, booked.Order)
	assert.Equal(t, []string{"you're all set"}, booked.InboundSignals)
	assert.Empty(t, booked.ExclusionSignals)
}
