package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vendorflow/internal/analyzer"
	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/store/storetest"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

func TestExpireProposalsWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var a *Activities
	env.RegisterActivity(a)
	env.OnActivity(a.ExpireProposalsActivity, mock.Anything).Return(3, nil)

	env.ExecuteWorkflow(ExpireProposalsWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var expired int
	require.NoError(t, env.GetWorkflowResult(&expired))
	assert.Equal(t, 3, expired)
}

func TestProcessThreadWorkflow(t *testing.T) {
	t.Run("returns the activity result", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		var a *Activities
		env.RegisterActivity(a)
		env.OnActivity(a.ProcessThreadActivity, mock.Anything, ProcessThreadInput{ThreadID: "t1"}).
			Return(&ProcessThreadResult{ThreadID: "t1", CurrentStatus: "booked", Mutations: 1}, nil)

		env.ExecuteWorkflow(ProcessThreadWorkflow, ProcessThreadInput{ThreadID: "t1"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var res ProcessThreadResult
		require.NoError(t, env.GetWorkflowResult(&res))
		assert.Equal(t, "booked", res.CurrentStatus)
		assert.Equal(t, 1, res.Mutations)
	})

	t.Run("does not retry a missing thread", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		var a *Activities
		env.RegisterActivity(a)
		calls := 0
		env.OnActivity(a.ProcessThreadActivity, mock.Anything, mock.Anything).
			Return(func(context.Context, ProcessThreadInput) (*ProcessThreadResult, error) {
				calls++
				return nil, temporal.NewNonRetryableApplicationError("thread missing", "ThreadNotFound", errors.New("not found"))
			})

		env.ExecuteWorkflow(ProcessThreadWorkflow, ProcessThreadInput{ThreadID: "missing"})

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		assert.Equal(t, 1, calls)
	})
}

func newActivities(t *testing.T, now time.Time) (*Activities, *store.Store) {
	t.Helper()
	st := storetest.New(t)
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return now }
	cache := signals.NewCache(signals.StaticSource(signals.DefaultDefinitions()))

	an, err := analyzer.New(nil, cache, st, logger, analyzer.Config{}, analyzer.WithClock(clock))
	require.NoError(t, err)
	ln, err := linking.New(st, logger, linking.DefaultConfig(), linking.WithClock(clock))
	require.NoError(t, err)
	en, err := decision.New(st, cache, logger, decision.DefaultConfig(), decision.WithClock(clock))
	require.NoError(t, err)
	svc, err := pipeline.NewService(st, an, ln, en, logger)
	require.NoError(t, err)
	return &Activities{Engine: en, Pipeline: svc}, st
}

func TestActivities(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	acts, st := newActivities(t, now)
	ctx := context.Background()

	th := &store.Thread{}
	require.NoError(t, st.CreateThread(ctx, th))
	require.NoError(t, st.AddMessages(ctx, th.ID, []*store.Message{
		{Direction: thread.Inbound, CleanedContent: "Booking confirmed!", SentAt: now.Add(-time.Hour)},
	}))

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.ProcessThreadActivity, ProcessThreadInput{ThreadID: th.ID})
	require.NoError(t, err)
	var res ProcessThreadResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "booked", res.CurrentStatus)
	assert.Equal(t, "NO_MATCH", res.LinkDecision)

	_, err = env.ExecuteActivity(acts.ProcessThreadActivity, ProcessThreadInput{ThreadID: "missing"})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())

	val, err = env.ExecuteActivity(acts.ExpireProposalsActivity)
	require.NoError(t, err)
	var expired int
	require.NoError(t, val.Get(&expired))
	assert.Zero(t, expired)
}
