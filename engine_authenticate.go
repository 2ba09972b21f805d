package privacyidea

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/runt18/privacyidea/internal/stores"
)

// Authenticate runs one authentication attempt against the owner's
// tokens and returns a Verdict. It is the single entry point for all
// flows: direct OTP verification, challenge response (TransactionID
// set) and multi-factor session steps (SessionID set).
//
// Failure reporting is deliberately coarse. Unless the request named
// token IDs explicitly, a failed attempt reports invalidCredential no
// matter whether the owner has no tokens, the code was wrong, or every
// token was filtered out, so callers cannot probe who is enrolled.
func (e *Engine) Authenticate(ctx context.Context, req AuthRequest) (*Verdict, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	if req.TransactionID != "" {
		verdict, err := e.respondChallenge(ctx, req.TransactionID, req.Code)
		if err != nil {
			return nil, err
		}
		if verdict.Outcome == OutcomeSuccess && req.SessionID != "" {
			return e.satisfySession(ctx, req.SessionID, verdict)
		}
		return verdict, nil
	}

	if req.Owner == "" {
		return nil, ErrInvalidCredential
	}

	candidates, explicit, err := e.candidateTokens(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if explicit {
			e.emitAudit(ctx, auditEventAuthFailure, false, req.Owner, "", "", req.SessionID, ErrTokenNotFound, nil)
			return nil, ErrTokenNotFound
		}
		e.emitAudit(ctx, auditEventAuthFailure, false, req.Owner, "", "", req.SessionID, ErrInvalidCredential, nil)
		return e.failVerdict(req, ErrInvalidCredential), nil
	}

	now := e.now()
	var (
		lockedSeen bool
		replaySeen bool
		checked    []*Token
	)

	for _, tok := range candidates {
		// A lapsed lockout is cleared in memory here; the reset is
		// persisted by whichever commit this attempt ends in.
		e.policy.unlockIfExpired(tok, now)
		if e.policy.Locked(tok, now) {
			lockedSeen = true
			continue
		}

		switch tok.Kind {
		case stores.KindHOTP:
			matched, ok, verifyErr := e.otp.VerifyCounter(tok.Secret, req.Code, tok.Counter, e.policy.EffectiveWindow(tok))
			if verifyErr != nil {
				return nil, verifyErr
			}
			if ok {
				return e.acceptToken(ctx, req, tok, now, func(t *Token) {
					t.Counter = matched + 1
				})
			}
			checked = append(checked, tok)

		case stores.KindTOTP:
			matched, ok, replayed, verifyErr := e.otp.VerifyTime(tok.Secret, req.Code, tok.Counter, now)
			if verifyErr != nil {
				return nil, verifyErr
			}
			if replayed {
				replaySeen = true
				continue
			}
			if ok {
				return e.acceptToken(ctx, req, tok, now, func(t *Token) {
					t.Counter = matched
				})
			}
			checked = append(checked, tok)

		case stores.KindChallenge:
			if req.Code != "" {
				// A bare code cannot answer a challenge token; the
				// response must come back with its transaction ID.
				continue
			}
			receipt, issueErr := e.issueChallengeForToken(ctx, tok)
			if issueErr != nil {
				if errors.Is(issueErr, ErrLockedOut) || errors.Is(issueErr, ErrPolicyViolation) {
					lockedSeen = lockedSeen || errors.Is(issueErr, ErrLockedOut)
					continue
				}
				return nil, issueErr
			}
			e.emitAudit(ctx, auditEventChallengeIssued, true, tok.Owner, tok.ID, receipt.TransactionID, req.SessionID, nil, nil)
			return &Verdict{
				Outcome:       OutcomeChallengePending,
				Owner:         tok.Owner,
				TokenID:       tok.ID,
				Kind:          tok.Kind,
				TransactionID: receipt.TransactionID,
				Prompt:        receipt.Prompt,
				SessionID:     req.SessionID,
			}, nil
		}
	}

	// No token matched. Burn a failure on every token that actually
	// compared the code, applying lockout policy as counters cross the
	// threshold.
	for _, tok := range checked {
		lockedBefore := tok.State == stores.TokenLocked
		if err := e.commitTokenUpdate(ctx, tok, func(t *Token) {
			e.policy.unlockIfExpired(t, now)
			e.policy.recordFailure(t, now)
		}); err != nil {
			return nil, err
		}
		if !lockedBefore {
			if latest, loadErr := e.loadToken(ctx, tok.ID); loadErr == nil && latest.State == stores.TokenLocked {
				e.emitAudit(ctx, auditEventTokenLocked, false, tok.Owner, tok.ID, "", req.SessionID, ErrLockedOut, nil)
			}
		}
	}

	reason := ErrInvalidCredential
	auditEvent := auditEventAuthFailure
	switch {
	case replaySeen:
		reason = ErrReplay
		auditEvent = auditEventAuthReplay
	case lockedSeen && len(checked) == 0:
		reason = ErrLockedOut
		auditEvent = auditEventAuthLockedOut
	}
	e.emitAudit(ctx, auditEvent, false, req.Owner, "", "", req.SessionID, reason, nil)

	if errors.Is(reason, ErrLockedOut) {
		reason = e.lockedOutError()
	}
	return e.failVerdict(req, reason), nil
}

// candidateTokens assembles the token set an attempt runs against:
// explicitly named IDs, or everything the Resolver reports, ordered by
// descending priority.
func (e *Engine) candidateTokens(ctx context.Context, req AuthRequest) ([]*Token, bool, error) {
	explicit := len(req.TokenIDs) > 0

	var candidates []*Token
	if explicit {
		for _, id := range req.TokenIDs {
			tok, err := e.loadToken(ctx, id)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					continue
				}
				return nil, explicit, err
			}
			candidates = append(candidates, tok)
		}
	} else {
		var ids []string
		if e.resolver != nil {
			resolved, err := e.resolver.ListTokens(ctx, req.Owner)
			if err != nil {
				return nil, explicit, err
			}
			ids = resolved
		} else {
			owned, err := e.listOwnerTokens(ctx, req.Owner)
			if err != nil {
				return nil, explicit, err
			}
			candidates = owned
		}
		for _, id := range ids {
			tok, err := e.loadToken(ctx, id)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					continue
				}
				return nil, explicit, err
			}
			candidates = append(candidates, tok)
		}
	}

	filtered := candidates[:0]
	for _, tok := range candidates {
		if tok.Owner != req.Owner {
			continue
		}
		if tok.State == stores.TokenDisabled {
			continue
		}
		if !e.policy.KindAllowed(tok.Kind) {
			continue
		}
		filtered = append(filtered, tok)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Priority != filtered[j].Priority {
			return filtered[i].Priority > filtered[j].Priority
		}
		return filtered[i].ID < filtered[j].ID
	})

	return filtered, explicit, nil
}

func (e *Engine) listOwnerTokens(ctx context.Context, owner string) ([]*Token, error) {
	var owned []*Token
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		var listErr error
		owned, listErr = e.tokens.ListByOwner(ctx, owner)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return owned, nil
}

// acceptToken commits the success-path mutation for a matched token.
// The compare-and-commit either wins, making this request the unique
// consumer of the matched code, or loses, in which case the attempt is
// a replay.
func (e *Engine) acceptToken(ctx context.Context, req AuthRequest, tok *Token, now time.Time, advance func(t *Token)) (*Verdict, error) {
	advance(tok)
	e.policy.recordSuccess(tok, now)

	if err := e.commitTokenSuccess(ctx, tok); err != nil {
		if errors.Is(err, ErrReplay) {
			e.emitAudit(ctx, auditEventAuthReplay, false, tok.Owner, tok.ID, "", req.SessionID, ErrReplay, nil)
			return e.failVerdict(req, ErrReplay), nil
		}
		return nil, err
	}

	e.emitAudit(ctx, auditEventAuthSuccess, true, tok.Owner, tok.ID, "", req.SessionID, nil, nil)

	verdict := &Verdict{
		Outcome:   OutcomeSuccess,
		Owner:     tok.Owner,
		TokenID:   tok.ID,
		Kind:      tok.Kind,
		SessionID: req.SessionID,
	}
	if req.SessionID != "" {
		return e.satisfySession(ctx, req.SessionID, verdict)
	}
	return verdict, nil
}

func (e *Engine) failVerdict(req AuthRequest, reason error) *Verdict {
	return &Verdict{
		Outcome:   OutcomeFailed,
		Reason:    reason,
		Owner:     req.Owner,
		SessionID: req.SessionID,
	}
}
