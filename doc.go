// Package privacyidea provides a token validation engine: HOTP and TOTP
// verification with replay prevention, out-of-band challenge/response,
// lockout policy, and multi-factor session aggregation, backed by Redis
// or in-process stores.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// privacyidea is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Verdict, AuthRequest, ChallengeReceipt).
// Record persistence, binary codecs, and audit plumbing live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose token secrets or expected challenge responses through any
//     API after enrollment or issuance.
//   - Accept the same one-time proof twice: every success is committed
//     through a versioned compare-and-commit, and losing that commit is
//     reported as a replay, not retried.
//   - Import any sub-package that re-imports privacyidea (no import
//     cycles).
//
// # Concurrency contract
//
// Authenticate is the hot path. For any single code, at most one
// concurrent request wins the success commit; all others observe a
// replay. Failure bookkeeping (counters, lockouts) may lose commit races
// and is retried a bounded number of times.
package privacyidea
