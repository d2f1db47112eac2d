// Package internal holds helpers private to fleetauth: random identifiers,
// secrets and numeric codes drawn from crypto/rand.
//
// Sub-packages:
//
//   - audit: async event dispatch with a zap-backed sink
//   - rate: Redis fixed-window rate limiting for login and code issuance
//   - sweep: cron-driven expiry sweeps of in-memory stores
//   - appconfig: YAML and environment configuration loading
//   - maintenance: admin backup archives and cleanup runs
package internal
