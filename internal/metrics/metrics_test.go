package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDefinitionLoad(t *testing.T) {
	before := testutil.ToFloat64(DefinitionLoadsTotal.WithLabelValues("error"))

	RecordDefinitionLoad(7, time.Millisecond, nil)
	assert.Equal(t, 7.0, testutil.ToFloat64(DefinitionsLoaded))

	RecordDefinitionLoad(0, time.Millisecond, errors.New("boom"))
	assert.Equal(t, 7.0, testutil.ToFloat64(DefinitionsLoaded), "failed loads keep the last size")
	assert.Equal(t, before+1, testutil.ToFloat64(DefinitionLoadsTotal.WithLabelValues("error")))
}

func TestRecordProposalResolved(t *testing.T) {
	before := testutil.ToFloat64(ProposalsResolvedTotal.WithLabelValues("EXPIRED"))

	RecordProposalResolved("EXPIRED", 0)
	RecordProposalResolved("EXPIRED", 3)

	assert.Equal(t, before+3, testutil.ToFloat64(ProposalsResolvedTotal.WithLabelValues("EXPIRED")))
}

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("applied"))
	RecordDecision("applied")
	assert.Equal(t, before+1, testutil.ToFloat64(DecisionsTotal.WithLabelValues("applied")))
}
