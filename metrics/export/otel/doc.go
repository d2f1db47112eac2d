// Package otel binds engine metrics to OpenTelemetry instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and,
// for the latency histogram, cumulative per-bucket gauges plus count and
// sum gauges. One callback reads [fleetauth.Engine.MetricsSnapshot] per
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
