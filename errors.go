package privacyidea

import "errors"

// Terminal authentication outcomes. These appear as Verdict.Reason, never
// as panics or control-flow errors: the caller always gets an explicit
// verdict to drive lockout and audit behavior.
var (
	// ErrInvalidCredential means no candidate token matched the presented
	// credential.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrReplay means the credential was cryptographically valid but its
	// counter or time step was already consumed, including the case where
	// a concurrent attempt won the commit race.
	ErrReplay = errors.New("credential replay detected")
	// ErrLockedOut means a candidate token is locked by policy and nothing
	// else matched.
	ErrLockedOut = errors.New("token locked out")
	// ErrChallengeExpired means the challenge TTL elapsed before a correct
	// response arrived.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAlreadyAnswered means the challenge was consumed by an
	// earlier (or concurrent) correct response.
	ErrChallengeAlreadyAnswered = errors.New("challenge already answered")
	// ErrChallengeAttemptsExceeded means the per-challenge retry budget is
	// spent and the challenge is closed.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrSessionExpired means the multi-factor session TTL elapsed or the
	// session already reached a terminal state.
	ErrSessionExpired = errors.New("session expired")
	// ErrPolicyViolation means the token kind is not permitted for the
	// principal under the active policy.
	ErrPolicyViolation = errors.New("token kind not permitted by policy")
	// ErrTokenNotFound means the token ID is unknown.
	ErrTokenNotFound = errors.New("token not found")
	// ErrChallengeNotFound means the transaction ID is unknown or the
	// challenge was explicitly closed.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrSessionNotFound means the session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnavailable means the backing store failed persistently. Reported
	// distinctly from ErrInvalidCredential so callers never treat
	// infrastructure failure as proof of a wrong credential.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrDeliveryFailed means the out-of-band delivery collaborator
	// reported failure; the challenge is not issued.
	ErrDeliveryFailed = errors.New("challenge delivery failed")
	// ErrTokenExists means an enrollment collided with an existing token ID.
	ErrTokenExists = errors.New("token already exists")
	// ErrEngineNotReady means the engine was used before Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
)
