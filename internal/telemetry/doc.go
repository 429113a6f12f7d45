// Package telemetry installs OpenTelemetry tracer and meter providers
// that export over OTLP, by gRPC or http/protobuf.
//
// Packages create spans with otel.Tracer and instruments with otel.Meter
// and pick up whatever provider is installed, so nothing else depends on
// this package. Prometheus metrics are separate; see internal/metrics.
package telemetry
