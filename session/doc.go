// Package session tracks server-side login sessions.
//
// A [Registry] maps session IDs to [Entry] records. Two implementations are
// provided: [MemoryRegistry] for a single process and [RedisRegistry] for
// deployments with several instances. The backend is chosen once at startup
// from configuration.
//
// Entries expire at the exp claim of the token minted alongside them and are
// removed lazily when read. [MemoryRegistry.Sweep] removes the rest.
//
// This package does not interpret tokens or make authorization decisions.
package session
