package privacyidea

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/runt18/privacyidea/internal/audit"
	"github.com/runt18/privacyidea/internal/stores"
)

// TokenKind identifies the verification algorithm an enrolled token uses.
type TokenKind = stores.TokenKind

const (
	// KindHOTP is a counter-based one-time-password token (RFC 4226).
	KindHOTP = stores.KindHOTP
	// KindTOTP is a time-based one-time-password token (RFC 6238).
	KindTOTP = stores.KindTOTP
	// KindChallenge is an out-of-band challenge/response token.
	KindChallenge = stores.KindChallenge
)

// TokenState is the lifecycle state of an enrolled token.
type TokenState = stores.TokenState

const (
	// TokenActive tokens accept verification attempts.
	TokenActive = stores.TokenActive
	// TokenLocked tokens reject attempts until the lockout window elapses.
	TokenLocked = stores.TokenLocked
	// TokenDisabled tokens are administratively suspended.
	TokenDisabled = stores.TokenDisabled
)

// Token is the persisted state of one enrolled authentication factor.
// All mutation flows through the TokenStore's compare-and-commit; the
// engine never holds a private authoritative copy.
type Token = stores.Token

// ChallengeState is the state machine position of an out-of-band exchange.
type ChallengeState = stores.ChallengeState

const (
	// ChallengePending challenges are waiting for a response.
	ChallengePending = stores.ChallengePending
	// ChallengeAnswered is the terminal success state, reached at most once.
	ChallengeAnswered = stores.ChallengeAnswered
	// ChallengeExpired is terminal, entered lazily once ExpiresAt passes.
	ChallengeExpired = stores.ChallengeExpired
	// ChallengeClosed is terminal, entered by explicit cancel or attempt cap.
	ChallengeClosed = stores.ChallengeClosed
)

// Challenge is one pending out-of-band exchange.
type Challenge = stores.Challenge

// Session correlates multi-factor attempts across validation calls.
type Session = stores.Session

// Outcome classifies a Verdict.
type Outcome uint8

const (
	// OutcomeFailed is a terminal failure; Verdict.Reason carries the cause.
	OutcomeFailed Outcome = iota
	// OutcomeSuccess means the credential proved the principal's identity
	// (and, when a session is involved, every required kind is satisfied).
	OutcomeSuccess
	// OutcomeChallengePending means an out-of-band challenge was issued;
	// the caller must collect a response and call back with TransactionID.
	OutcomeChallengePending
	// OutcomePartial means one factor succeeded but the session still
	// requires more kinds; Verdict.PendingKinds lists them.
	OutcomePartial
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeChallengePending:
		return "challenge_pending"
	case OutcomePartial:
		return "partial"
	default:
		return "failed"
	}
}

// Verdict is the result of one authentication attempt. Reason is one of
// the package sentinel errors and is set only when Outcome is
// OutcomeFailed; compare it with errors.Is.
type Verdict struct {
	Outcome Outcome
	Reason  error

	Owner   string
	TokenID string
	Kind    TokenKind

	// Challenge flow.
	TransactionID string
	Prompt        string

	// Multi-factor session flow.
	SessionID    string
	PendingKinds []TokenKind

	// Proof is a signed attestation of a satisfied session, present only
	// when proof issuance is configured.
	Proof string
}

// AuthRequest describes one authentication attempt.
type AuthRequest struct {
	// Owner is the principal whose identity is being proven. Required.
	Owner string
	// Code is the presented one-time code or challenge response.
	Code string
	// TransactionID routes the request to a previously issued challenge.
	TransactionID string
	// TokenIDs restricts the candidate set. Empty means every enrolled
	// token the Resolver reports for Owner.
	TokenIDs []string
	// SessionID attaches the attempt to a multi-factor session.
	SessionID string
}

// ChallengeReceipt is returned when a challenge is issued. It never
// contains the expected response; that goes only to the Deliverer.
type ChallengeReceipt struct {
	TransactionID string
	Prompt        string
	ExpiresAt     time.Time
}

// Resolver enumerates the tokens enrolled for a principal. Enrollment
// itself is owned by the integrating directory, not by this engine.
type Resolver interface {
	ListTokens(ctx context.Context, owner string) ([]string, error)
}

// Deliverer transports a freshly issued challenge (and its plaintext
// expected response) to the principal out of band. A non-nil error aborts
// issuance; the protocol behind delivery is entirely the caller's.
type Deliverer interface {
	Deliver(ctx context.Context, challenge Challenge, response string) error
}

// Clock abstracts time so lockout and expiry arithmetic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the production clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events to an
// io.Writer, one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
