package privacyidea

import (
	"context"
	"errors"
)

const (
	auditEventAuthSuccess        = "auth_success"
	auditEventAuthFailure        = "auth_failure"
	auditEventAuthReplay         = "auth_replay"
	auditEventAuthLockedOut      = "auth_locked_out"
	auditEventTokenLocked        = "token_locked"
	auditEventTokenUnlocked      = "token_unlocked"
	auditEventTokenEnrolled      = "token_enrolled"
	auditEventTokenDeleted       = "token_deleted"
	auditEventChallengeIssued    = "challenge_issued"
	auditEventChallengeAnswered  = "challenge_answered"
	auditEventChallengeFailed    = "challenge_failed"
	auditEventChallengeExpired   = "challenge_expired"
	auditEventChallengeExceeded  = "challenge_attempts_exceeded"
	auditEventChallengeCancelled = "challenge_cancelled"
	auditEventSessionStarted     = "session_started"
	auditEventSessionPartial     = "session_partial"
	auditEventSessionSatisfied   = "session_satisfied"
	auditEventSessionClosed      = "session_closed"
)

// AuditErrorCode is the stable string form of a failure reason written
// into audit events. It never collapses under SuppressLockedOut; the
// trail records what actually happened.
type AuditErrorCode string

const (
	auditErrInvalidCredential  AuditErrorCode = "invalid_credential"
	auditErrReplay             AuditErrorCode = "replay"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrChallengeExpired   AuditErrorCode = "challenge_expired"
	auditErrChallengeAnswered  AuditErrorCode = "challenge_already_answered"
	auditErrChallengeAttempts  AuditErrorCode = "challenge_attempts_exceeded"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrPolicyViolation    AuditErrorCode = "policy_violation"
	auditErrTokenNotFound      AuditErrorCode = "token_not_found"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrBackendUnavailable AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	owner string,
	tokenID string,
	transactionID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     e.clock.Now().UTC(),
		EventType:     eventType,
		Owner:         owner,
		TokenID:       tokenID,
		TransactionID: transactionID,
		SessionID:     sessionID,
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrReplay):
		return auditErrReplay
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeAlreadyAnswered):
		return auditErrChallengeAnswered
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrChallengeAttempts
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrPolicyViolation):
		return auditErrPolicyViolation
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrUnavailable):
		return auditErrBackendUnavailable
	default:
		return auditErrInternal
	}
}
