package privacyidea

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/runt18/privacyidea/internal"
	"github.com/runt18/privacyidea/internal/stores"
)

func hashResponse(response string) [32]byte {
	return sha256.Sum256([]byte(response))
}

func responseMatches(want [32]byte, response string) bool {
	got := hashResponse(response)
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// IssueChallenge starts an out-of-band challenge for the given token:
// it generates a one-time response, stores only its hash, hands the
// plaintext to the Deliverer and returns the transaction handle the
// caller presents back via RespondChallenge. The plaintext response
// never leaves this method except through the Deliverer.
func (e *Engine) IssueChallenge(ctx context.Context, tokenID string) (*ChallengeReceipt, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	tok, err := e.loadToken(ctx, tokenID)
	if err != nil {
		e.emitAudit(ctx, auditEventChallengeIssued, false, "", tokenID, "", "", err, nil)
		return nil, err
	}

	receipt, err := e.issueChallengeForToken(ctx, tok)
	e.emitAudit(ctx, auditEventChallengeIssued, err == nil, tok.Owner, tok.ID, receiptTransactionID(receipt), "", err, nil)
	if errors.Is(err, ErrLockedOut) {
		// The audit trail above keeps the true reason; only the caller
		// sees the suppressed form.
		return nil, e.lockedOutError()
	}
	return receipt, err
}

func receiptTransactionID(r *ChallengeReceipt) string {
	if r == nil {
		return ""
	}
	return r.TransactionID
}

func (e *Engine) issueChallengeForToken(ctx context.Context, tok *Token) (*ChallengeReceipt, error) {
	now := e.now()

	if !e.policy.KindAllowed(tok.Kind) {
		return nil, ErrPolicyViolation
	}
	if tok.State == stores.TokenDisabled {
		return nil, ErrPolicyViolation
	}
	if e.policy.Locked(tok, now) {
		return nil, ErrLockedOut
	}

	response, err := internal.NumericCode(e.config.Challenge.ResponseDigits)
	if err != nil {
		return nil, err
	}

	ch := &Challenge{
		TransactionID: uuid.NewString(),
		TokenID:       tok.ID,
		Owner:         tok.Owner,
		Prompt:        e.config.Challenge.Prompt,
		ResponseHash:  hashResponse(response),
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(e.config.Challenge.TTL).Unix(),
		State:         stores.ChallengePending,
	}

	err = e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.challenges.Create(ctx, ch, e.config.Challenge.Retention)
	})
	if err != nil {
		return nil, err
	}

	if e.deliverer != nil {
		if err := e.deliverer.Deliver(ctx, *ch.Clone(), response); err != nil {
			// A challenge whose response was never delivered is dead;
			// close it so the transaction ID cannot be brute forced.
			ch.State = stores.ChallengeClosed
			if commitErr := e.commitChallenge(ctx, ch); commitErr != nil {
				e.warn("challenge %s: close after delivery failure: %v", ch.TransactionID, commitErr)
			}
			return nil, errors.Join(ErrDeliveryFailed, err)
		}
	}

	return &ChallengeReceipt{
		TransactionID: ch.TransactionID,
		Prompt:        ch.Prompt,
		ExpiresAt:     time.Unix(ch.ExpiresAt, 0),
	}, nil
}

// RespondChallenge resolves a pending challenge with the response the
// owner received. A correct response answers the challenge exactly
// once; late responses report expiry even when correct, and a locked
// token rejects responses until its lockout clears.
func (e *Engine) RespondChallenge(ctx context.Context, transactionID, response string) (*Verdict, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	verdict, err := e.respondChallenge(ctx, transactionID, response)
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

func (e *Engine) respondChallenge(ctx context.Context, transactionID, response string) (*Verdict, error) {
	ch, err := e.loadChallenge(ctx, transactionID)
	if err != nil {
		e.emitAudit(ctx, auditEventChallengeFailed, false, "", "", transactionID, "", err, nil)
		return nil, err
	}

	now := e.now()
	verdict := &Verdict{
		Outcome:       OutcomeFailed,
		Owner:         ch.Owner,
		TokenID:       ch.TokenID,
		Kind:          KindChallenge,
		TransactionID: ch.TransactionID,
	}

	// Expiry wins over everything else, including a correct response.
	if ch.State == stores.ChallengePending && now.Unix() >= ch.ExpiresAt {
		ch.State = stores.ChallengeExpired
		if commitErr := e.commitChallenge(ctx, ch); commitErr != nil && !errors.Is(commitErr, stores.ErrConflict) {
			return nil, commitErr
		}
		verdict.Reason = ErrChallengeExpired
		e.emitAudit(ctx, auditEventChallengeExpired, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrChallengeExpired, nil)
		return verdict, nil
	}

	switch ch.State {
	case stores.ChallengeExpired:
		verdict.Reason = ErrChallengeExpired
		return verdict, nil
	case stores.ChallengeAnswered:
		verdict.Reason = ErrChallengeAlreadyAnswered
		e.emitAudit(ctx, auditEventChallengeFailed, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrChallengeAlreadyAnswered, nil)
		return verdict, nil
	case stores.ChallengeClosed:
		verdict.Reason = ErrChallengeAttemptsExceeded
		return verdict, nil
	}

	tok, err := e.loadToken(ctx, ch.TokenID)
	if err != nil {
		return nil, err
	}
	e.policy.unlockIfExpired(tok, now)
	if e.policy.Locked(tok, now) {
		// A locked token cannot be proven through a pending challenge.
		// The challenge is left untouched so it stays answerable once
		// the lockout clears.
		e.emitAudit(ctx, auditEventChallengeFailed, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrLockedOut, nil)
		verdict.Reason = e.lockedOutError()
		return verdict, nil
	}

	if responseMatches(ch.ResponseHash, response) {
		ch.State = stores.ChallengeAnswered
		ch.Attempts++
		if err := e.commitChallenge(ctx, ch); err != nil {
			if errors.Is(err, stores.ErrConflict) {
				// Someone else answered or closed it first.
				verdict.Reason = ErrChallengeAlreadyAnswered
				e.emitAudit(ctx, auditEventChallengeFailed, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrChallengeAlreadyAnswered, nil)
				return verdict, nil
			}
			return nil, err
		}

		if updErr := e.commitTokenUpdate(ctx, tok, func(t *Token) {
			e.policy.unlockIfExpired(t, now)
			e.policy.recordSuccess(t, now)
		}); updErr != nil {
			e.warn("challenge %s: token bookkeeping: %v", ch.TransactionID, updErr)
		}

		verdict.Outcome = OutcomeSuccess
		verdict.Reason = nil
		e.emitAudit(ctx, auditEventChallengeAnswered, true, ch.Owner, ch.TokenID, ch.TransactionID, "", nil, nil)
		return verdict, nil
	}

	// Wrong response: burn an attempt on the challenge and a failure on
	// the underlying token.
	ch.Attempts++
	exceeded := ch.Attempts >= e.config.Challenge.MaxAttempts
	if exceeded {
		ch.State = stores.ChallengeClosed
	}
	if err := e.commitChallenge(ctx, ch); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			verdict.Reason = ErrChallengeAlreadyAnswered
			return verdict, nil
		}
		return nil, err
	}

	if updErr := e.commitTokenUpdate(ctx, tok, func(t *Token) {
		e.policy.unlockIfExpired(t, now)
		e.policy.recordFailure(t, now)
	}); updErr != nil {
		e.warn("challenge %s: token bookkeeping: %v", ch.TransactionID, updErr)
	}

	if exceeded {
		verdict.Reason = ErrChallengeAttemptsExceeded
		e.emitAudit(ctx, auditEventChallengeExceeded, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrChallengeAttemptsExceeded, nil)
	} else {
		verdict.Reason = ErrInvalidCredential
		e.emitAudit(ctx, auditEventChallengeFailed, false, ch.Owner, ch.TokenID, ch.TransactionID, "", ErrInvalidCredential, nil)
	}
	return verdict, nil
}

// CancelChallenge closes a pending challenge so its response can no
// longer be used. Cancelling a terminal challenge is a no-op.
func (e *Engine) CancelChallenge(ctx context.Context, transactionID string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}
	ch, err := e.loadChallenge(ctx, transactionID)
	if err != nil {
		return err
	}
	if ch.State != stores.ChallengePending {
		return nil
	}
	ch.State = stores.ChallengeClosed
	if err := e.commitChallenge(ctx, ch); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return nil
		}
		return err
	}
	e.emitAudit(ctx, auditEventChallengeCancelled, true, ch.Owner, ch.TokenID, ch.TransactionID, "", nil, nil)
	return nil
}

func (e *Engine) lockedOutError() error {
	if e.config.Policy.SuppressLockedOut {
		return ErrInvalidCredential
	}
	return ErrLockedOut
}
