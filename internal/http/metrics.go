package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fyrsmithlabs/vendorflow/internal/http"

// requestMetrics records OTel instruments per matched route. Echo reports
// routes as patterns (/api/v1/proposals/:id/accept), so ids never become
// attribute values.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	requests, err1 := meter.Int64Counter("vendorflow.http.requests",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}"))
	duration, err2 := meter.Float64Histogram("vendorflow.http.request.duration",
		metric.WithDescription("HTTP request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30))
	inFlight, err3 := meter.Int64UpDownCounter("vendorflow.http.in_flight",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &requestMetrics{requests: requests, duration: duration, inFlight: inFlight}, nil
}

func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		m.inFlight.Add(ctx, 1)
		defer m.inFlight.Add(ctx, -1)

		err := next(c)

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().Status
		// The error handler writes the response after this returns.
		if err != nil {
			status = statusFor(err)
		}
		attrs := metric.WithAttributes(
			attribute.String("http.method", c.Request().Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		m.requests.Add(ctx, 1, attrs)
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		return err
	}
}
