// Package metrics exposes Prometheus metrics for the vendor pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vendorflow"

var (
	// AnalysesTotal counts thread analyses.
	// Labels: source (ai, fallback, none)
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "analyses_total",
			Help:      "Total number of thread analyses by the source of the status read",
		},
		[]string{"source"},
	)

	// ExtractionDuration tracks AI extraction latency.
	// Labels: result (success, error)
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of AI extraction calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)

	// DecisionsTotal counts per-relationship decisions.
	// Labels: outcome (applied, proposed, below_threshold, already_at_target,
	// pending_exists, unknown_status, no_status)
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "decisions_total",
			Help:      "Total number of status decisions by outcome",
		},
		[]string{"outcome"},
	)

	// ProposalsResolvedTotal counts proposal state transitions.
	// Labels: state (ACCEPTED, REJECTED, EXPIRED)
	ProposalsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "proposals_resolved_total",
			Help:      "Total number of proposals that left PENDING",
		},
		[]string{"state"},
	)

	// SweepDuration tracks expiry sweep runs.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Duration of proposal expiry sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// LinkDecisionsTotal counts project linking outcomes.
	// Labels: decision (AUTO, AMBIGUOUS, NO_MATCH)
	LinkDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linking",
			Name:      "decisions_total",
			Help:      "Total number of project link decisions",
		},
		[]string{"decision"},
	)

	// DefinitionLoadsTotal counts status definition cache loads.
	// Labels: result (success, error)
	DefinitionLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "definition_loads_total",
			Help:      "Total number of status definition table loads",
		},
		[]string{"result"},
	)

	// DefinitionsLoaded is the size of the last loaded definition table.
	DefinitionsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "definitions_loaded",
			Help:      "Number of status definitions in the last loaded table",
		},
	)

	// ThreadsProcessedTotal counts pipeline runs.
	// Labels: result (success, error, skipped)
	ThreadsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "threads_processed_total",
			Help:      "Total number of thread pipeline runs",
		},
		[]string{"result"},
	)

	// QueueDepth is the number of threads waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Number of thread ids waiting to be processed",
		},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordExtraction observes one AI extraction call.
func RecordExtraction(d time.Duration, err error) {
	ExtractionDuration.WithLabelValues(result(err)).Observe(d.Seconds())
}

// RecordAnalysis counts one analysis by source.
func RecordAnalysis(source string) {
	AnalysesTotal.WithLabelValues(source).Inc()
}

// RecordDecision counts one per-relationship decision.
func RecordDecision(outcome string) {
	DecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordProposalResolved counts proposals leaving PENDING.
func RecordProposalResolved(state string, n int) {
	if n > 0 {
		ProposalsResolvedTotal.WithLabelValues(state).Add(float64(n))
	}
}

// RecordLinkDecision counts one project link decision.
func RecordLinkDecision(decision string) {
	LinkDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordDefinitionLoad is a signals.LoadHook.
func RecordDefinitionLoad(count int, _ time.Duration, err error) {
	DefinitionLoadsTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		DefinitionsLoaded.Set(float64(count))
	}
}

// RecordThreadProcessed counts one pipeline run.
func RecordThreadProcessed(outcome string) {
	ThreadsProcessedTotal.WithLabelValues(outcome).Inc()
}
