// Package stores holds the persisted record model for tokens, challenges,
// and multi-factor sessions, plus the two reference store implementations:
// in-memory (embedding, tests) and Redis (multi-process deployments).
//
// # Design
//
// Every mutation is a compare-and-commit keyed on the record's Version
// field. The stores guarantee that of two writers holding the same loaded
// Version, exactly one commit applies; the other observes ErrConflict.
// The Redis stores persist versioned binary records and commit through
// WATCH/MULTI optimistic transactions; the in-memory stores serialize on a
// mutex. Challenge and session records carry a retention TTL so terminal
// states remain observable after the fact.
//
// # What this package must NOT do
//
//   - Decide what a conflict means (replay vs. retryable race) — that is
//     the engine's call.
//   - Generate or verify one-time codes.
//   - Log or expose plaintext challenge responses.
package stores
