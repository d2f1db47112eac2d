// Package prometheus exposes engine metrics through client_golang.
//
// [NewCollector] wraps a [fleetauth.Engine] as a prometheus.Collector that
// reads a fresh snapshot on each scrape. Counter names are
// fleetauth_*_total; the latency histogram is
// fleetauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount [Handler].
//   - Mutate engine state.
package prometheus
