// Package internal contains helper utilities that are intentionally
// private to the module, including secure random identifier and
// challenge-code generation.
//
// # Sub-packages
//
//   - audit — structured audit events and sink implementations
//   - stores — persisted token/challenge/session records and the
//     in-memory and Redis reference stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public API surface.
//   - Be imported by any package outside this module.
package internal
