package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry owns the tracer and meter providers installed as otel
// globals. Exporter failures leave it degraded rather than failing
// startup.
type Telemetry struct {
	cfg    *Config
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider

	mu     sync.Mutex
	reason string
	closed bool
}

// New builds providers for cfg and installs them globally. A disabled
// config yields an instance that exports nothing.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if !cfg.Enabled {
		return &Telemetry{cfg: cfg}, nil
	}

	t := &Telemetry{cfg: cfg}
	spans, err := spanExporter(ctx, cfg)
	if err != nil {
		t.degrade(err)
	}
	var reader sdkmetric.Reader
	if metrics, err := metricExporter(ctx, cfg); err != nil {
		t.degrade(err)
	} else {
		reader = sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.MetricInterval))
	}
	t.install(spans, reader)
	return t, nil
}

// install wires whichever of spans and reader are non-nil.
func (t *Telemetry) install(spans sdktrace.SpanExporter, reader sdkmetric.Reader) {
	res := serviceResource(t.cfg)
	if spans != nil {
		t.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(t.cfg.SampleRate)),
		)
		otel.SetTracerProvider(t.tracer)
	}
	if reader != nil {
		t.meter = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
		otel.SetMeterProvider(t.meter)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

func (t *Telemetry) degrade(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reason = err.Error()
}

// LoggerProvider returns the global OTel log provider when telemetry is
// enabled, for the otelzap bridge. It is nil otherwise.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || !t.cfg.Enabled {
		return nil
	}
	return global.GetLoggerProvider()
}

// Health reports the state for /health. Disabled telemetry is "disabled".
func (t *Telemetry) Health() (status, reason string) {
	if t == nil || !t.cfg.Enabled {
		return "disabled", ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return "stopped", ""
	case t.reason != "":
		return "degraded", t.reason
	}
	return "ok", ""
}

// Shutdown flushes and stops the providers. Without a deadline on ctx it
// waits at most the configured shutdown time. Later calls are no-ops.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownWait)
		defer cancel()
	}
	var errs []error
	if t.tracer != nil {
		if err := t.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if t.meter != nil {
		if err := t.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
