package privacyidea

import (
	"context"
	"errors"

	"github.com/runt18/privacyidea/internal"
	"github.com/runt18/privacyidea/internal/stores"
)

// BeginSession opens a multi-factor session for an owner. The required
// kinds default to the policy's requirement for that owner; passing
// kinds explicitly overrides it. Each required kind must be satisfied
// by a successful Authenticate carrying the session ID before the
// session TTL runs out.
func (e *Engine) BeginSession(ctx context.Context, owner string, kinds ...TokenKind) (*Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if owner == "" {
		return nil, ErrPolicyViolation
	}

	required := kinds
	if len(required) == 0 {
		required = e.policy.RequiredKinds(owner)
	}
	if len(required) == 0 {
		return nil, ErrPolicyViolation
	}
	required = dedupeKinds(required)

	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess := &Session{
		ID:            id.String(),
		Owner:         owner,
		RequiredKinds: required,
		Satisfied:     map[TokenKind]string{},
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.Session.TTL).Unix(),
	}

	err = e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.sessions.Create(ctx, sess, e.config.Session.Retention)
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventSessionStarted, true, owner, "", "", sess.ID, nil, func() map[string]string {
		return map[string]string{"required": kindsString(required)}
	})
	return sess.Clone(), nil
}

// Session returns the current state of a multi-factor session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	return e.loadSession(ctx, sessionID)
}

// CloseSession terminates a session early. Closing an already closed
// session is a no-op.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Closed {
		return nil
	}
	sess.Closed = true
	if err := e.commitSession(ctx, sess); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return nil
		}
		return err
	}
	e.emitAudit(ctx, auditEventSessionClosed, true, sess.Owner, "", "", sess.ID, nil, nil)
	return nil
}

// satisfySession records a successful factor against a session and
// upgrades the verdict: Partial while kinds remain outstanding, Success
// with an optional signed proof once every required kind is in.
// Concurrent factors for different kinds are both counted; losing the
// commit race just means reloading and re-applying.
func (e *Engine) satisfySession(ctx context.Context, sessionID string, verdict *Verdict) (*Verdict, error) {
	const attempts = 3

	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	verdict.SessionID = sessionID

	now := e.now()
	for i := 0; i < attempts; i++ {
		if sess.Owner != verdict.Owner {
			return nil, ErrPolicyViolation
		}
		if sess.Closed {
			e.emitAudit(ctx, auditEventSessionClosed, false, sess.Owner, verdict.TokenID, "", sess.ID, ErrSessionExpired, nil)
			return e.sessionFailVerdict(verdict, ErrSessionExpired), nil
		}
		if now.Unix() >= sess.ExpiresAt {
			sess.Closed = true
			if commitErr := e.commitSession(ctx, sess); commitErr != nil && !errors.Is(commitErr, stores.ErrConflict) {
				return nil, commitErr
			}
			e.emitAudit(ctx, auditEventSessionClosed, false, sess.Owner, verdict.TokenID, "", sess.ID, ErrSessionExpired, nil)
			return e.sessionFailVerdict(verdict, ErrSessionExpired), nil
		}

		if kindRequired(sess.RequiredKinds, verdict.Kind) {
			if sess.Satisfied == nil {
				sess.Satisfied = map[TokenKind]string{}
			}
			sess.Satisfied[verdict.Kind] = verdict.TokenID
		}
		pending := pendingKinds(sess)
		complete := len(pending) == 0
		if complete {
			sess.Closed = true
		}

		err = e.commitSession(ctx, sess)
		if err == nil {
			return e.sessionVerdict(ctx, sess, verdict, pending, complete)
		}
		if !errors.Is(err, stores.ErrConflict) {
			return nil, err
		}
		sess, err = e.loadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	return nil, errors.Join(ErrUnavailable, errors.New("session commit contention"))
}

func (e *Engine) sessionVerdict(ctx context.Context, sess *Session, verdict *Verdict, pending []TokenKind, complete bool) (*Verdict, error) {
	verdict.SessionID = sess.ID
	if !complete {
		verdict.Outcome = OutcomePartial
		verdict.PendingKinds = pending
		e.emitAudit(ctx, auditEventSessionPartial, true, sess.Owner, verdict.TokenID, "", sess.ID, nil, func() map[string]string {
			return map[string]string{"pending": kindsString(pending)}
		})
		return verdict, nil
	}

	verdict.Outcome = OutcomeSuccess
	verdict.PendingKinds = nil
	if e.proof != nil {
		kinds := make([]string, 0, len(sess.RequiredKinds))
		for _, k := range sess.RequiredKinds {
			kinds = append(kinds, k.String())
		}
		token, err := e.proof.Issue(sess.Owner, sess.ID, kinds, e.now())
		if err != nil {
			e.warn("session %s: proof issuance: %v", sess.ID, err)
		} else {
			verdict.Proof = token
		}
	}
	e.emitAudit(ctx, auditEventSessionSatisfied, true, sess.Owner, verdict.TokenID, "", sess.ID, nil, nil)
	return verdict, nil
}

func (e *Engine) sessionFailVerdict(base *Verdict, reason error) *Verdict {
	return &Verdict{
		Outcome:   OutcomeFailed,
		Reason:    reason,
		Owner:     base.Owner,
		TokenID:   base.TokenID,
		Kind:      base.Kind,
		SessionID: base.SessionID,
	}
}

func kindRequired(required []TokenKind, kind TokenKind) bool {
	for _, k := range required {
		if k == kind {
			return true
		}
	}
	return false
}

func pendingKinds(sess *Session) []TokenKind {
	var pending []TokenKind
	for _, k := range sess.RequiredKinds {
		if _, ok := sess.Satisfied[k]; !ok {
			pending = append(pending, k)
		}
	}
	return pending
}

func dedupeKinds(kinds []TokenKind) []TokenKind {
	seen := map[TokenKind]struct{}{}
	out := kinds[:0]
	for _, k := range kinds {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func kindsString(kinds []TokenKind) string {
	s := ""
	for i, k := range kinds {
		if i > 0 {
			s += ","
		}
		s += k.String()
	}
	return s
}
