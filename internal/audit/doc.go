// Package audit implements async event dispatching for security-relevant
// authentication outcomes.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, no-op).
//   - [Event] — structured record with timestamp, type, owner, token,
//     transaction, and session identifiers.
//
// The buffering dispatcher lives in the root package next to the engine
// that feeds it.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root package or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
