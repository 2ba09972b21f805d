package privacyidea

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/runt18/privacyidea/internal/stores"
	"github.com/runt18/privacyidea/proof"
)

// Engine is the validation engine. Build one with a Builder; it is safe
// for concurrent use afterwards.
type Engine struct {
	config     Config
	tokens     TokenStore
	challenges ChallengeStore
	sessions   SessionStore
	resolver   Resolver
	deliverer  Deliverer
	policy     *policyEngine
	otp        *otpVerifier
	proof      *proof.Manager
	audit      *auditDispatcher
	clock      Clock
	logger     *log.Logger
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full. Only meaningful with Audit.DropIfFull.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) warn(format string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Printf("privacyidea: "+format, args...)
}

// withStoreRetry retries transient backend failures with a constant
// backoff. Conflicts, not-found and other semantic errors pass through
// untouched; only ErrBackend is retried, and exhaustion surfaces as
// ErrUnavailable so callers never see raw driver errors.
func (e *Engine) withStoreRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.NewConstant(e.config.Store.RetryBackoff)
	backoff = retry.WithMaxRetries(uint64(e.config.Store.MaxRetries), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, stores.ErrBackend) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, stores.ErrBackend) {
		e.warn("store retries exhausted: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// loadToken fetches a token record, mapping store errors to the public
// taxonomy.
func (e *Engine) loadToken(ctx context.Context, id string) (*Token, error) {
	var tok *Token
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		var loadErr error
		tok, loadErr = e.tokens.Load(ctx, id)
		return loadErr
	})
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return tok, nil
}

// commitTokenSuccess commits the success-path mutation exactly once. A
// version conflict here means another request consumed the same proof
// first, so the attempt is reported as a replay, never retried.
func (e *Engine) commitTokenSuccess(ctx context.Context, tok *Token) error {
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.tokens.CompareAndCommit(ctx, tok)
	})
	if err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return ErrReplay
		}
		return err
	}
	return nil
}

// commitTokenUpdate applies a bookkeeping mutation (failure counters,
// lazy unlock) with reload-and-apply retries. Losing this race only
// means someone else already advanced the record, so a bounded number
// of retries is enough and giving up is logged, not fatal.
func (e *Engine) commitTokenUpdate(ctx context.Context, tok *Token, apply func(t *Token)) error {
	const attempts = 3
	current := tok
	for i := 0; i < attempts; i++ {
		apply(current)
		err := e.withStoreRetry(ctx, func(ctx context.Context) error {
			return e.tokens.CompareAndCommit(ctx, current)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, stores.ErrConflict) {
			return err
		}
		reloaded, loadErr := e.loadToken(ctx, tok.ID)
		if loadErr != nil {
			return loadErr
		}
		current = reloaded
	}
	e.warn("token %s: bookkeeping commit lost %d races, giving up", tok.ID, attempts)
	return nil
}

// commitChallenge writes a challenge transition. Conflicts surface as
// ErrReplay-like single-winner semantics at the call site.
func (e *Engine) commitChallenge(ctx context.Context, c *Challenge) error {
	return e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.challenges.CompareAndCommit(ctx, c, e.config.Challenge.Retention)
	})
}

func (e *Engine) loadChallenge(ctx context.Context, transactionID string) (*Challenge, error) {
	var ch *Challenge
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		var loadErr error
		ch, loadErr = e.challenges.Load(ctx, transactionID)
		return loadErr
	})
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return ch, nil
}

func (e *Engine) loadSession(ctx context.Context, id string) (*Session, error) {
	var sess *Session
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		var loadErr error
		sess, loadErr = e.sessions.Load(ctx, id)
		return loadErr
	})
	if err != nil {
		if errors.Is(err, stores.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (e *Engine) commitSession(ctx context.Context, s *Session) error {
	return e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.sessions.CompareAndCommit(ctx, s, e.config.Session.Retention)
	})
}

// DeleteToken removes a token record. Removal is permanent; enrolled
// secrets cannot be recovered.
func (e *Engine) DeleteToken(ctx context.Context, tokenID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	var found bool
	err := e.withStoreRetry(ctx, func(ctx context.Context) error {
		var delErr error
		found, delErr = e.tokens.Delete(ctx, tokenID)
		return delErr
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrTokenNotFound
	}
	e.emitAudit(ctx, auditEventTokenDeleted, true, "", tokenID, "", "", nil, nil)
	return nil
}

// UnlockToken clears a lockout manually, resetting the failure tally.
func (e *Engine) UnlockToken(ctx context.Context, tokenID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	tok, err := e.loadToken(ctx, tokenID)
	if err != nil {
		return err
	}
	err = e.commitTokenUpdate(ctx, tok, func(t *Token) {
		t.State = stores.TokenActive
		t.FailCount = 0
		t.LockedAt = 0
	})
	e.emitAudit(ctx, auditEventTokenUnlocked, err == nil, tok.Owner, tokenID, "", "", err, nil)
	return err
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}
