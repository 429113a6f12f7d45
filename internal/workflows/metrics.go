package workflows

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Only activities record metrics. Workflow code is replayed and must not.
type activityInstruments struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

var instruments = sync.OnceValue(func() activityInstruments {
	meter := otel.Meter("github.com/fyrsmithlabs/vendorflow/internal/workflows")
	// Instrument errors only happen for invalid names; the no-op
	// instruments returned alongside are still safe to use.
	runs, _ := meter.Int64Counter("vendorflow.workflows.activity.runs",
		metric.WithDescription("Activity executions by activity and outcome."),
		metric.WithUnit("{run}"))
	duration, _ := meter.Float64Histogram("vendorflow.workflows.activity.duration",
		metric.WithDescription("Activity execution time."),
		metric.WithUnit("s"))
	return activityInstruments{runs: runs, duration: duration}
})

func record(ctx context.Context, activity string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m := instruments()
	attrs := metric.WithAttributes(
		attribute.String("activity", activity),
		attribute.String("outcome", outcome),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
