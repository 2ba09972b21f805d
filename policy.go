package privacyidea

import (
	"time"

	"github.com/runt18/privacyidea/internal/stores"
)

// policyEngine resolves the effective policy for a token: engine-wide
// configuration overridden by non-zero per-token fields. It also owns the
// lockout decision, including lazy unlock after the lockout window passes.
type policyEngine struct {
	cfg PolicyConfig
}

func newPolicyEngine(cfg PolicyConfig) *policyEngine {
	return &policyEngine{cfg: cfg}
}

// KindAllowed reports whether a token kind may authenticate at all.
func (p *policyEngine) KindAllowed(kind TokenKind) bool {
	if len(p.cfg.AllowedKinds) == 0 {
		return true
	}
	for _, k := range p.cfg.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (p *policyEngine) EffectiveMaxFail(t *Token) int {
	if t.MaxFail > 0 {
		return t.MaxFail
	}
	return p.cfg.MaxFail
}

func (p *policyEngine) EffectiveLockout(t *Token) time.Duration {
	if t.LockoutSeconds > 0 {
		return time.Duration(t.LockoutSeconds) * time.Second
	}
	return p.cfg.LockoutDuration
}

func (p *policyEngine) EffectiveWindow(t *Token) int {
	if t.SyncWindow > 0 {
		return t.SyncWindow
	}
	return p.cfg.SyncWindow
}

// Locked reports whether the token is locked at the given instant. A
// token whose lockout window has elapsed counts as unlocked here; the
// caller resets State and FailCount on its next commit.
func (p *policyEngine) Locked(t *Token, now time.Time) bool {
	if t.State != stores.TokenLocked {
		return false
	}
	lockout := p.EffectiveLockout(t)
	if lockout <= 0 {
		// No automatic unlock configured.
		return true
	}
	return now.Unix() < t.LockedAt+int64(lockout/time.Second)
}

// unlockIfExpired clears an elapsed lockout in place so the reset rides
// along the caller's next commit. Returns true when it changed the token.
func (p *policyEngine) unlockIfExpired(t *Token, now time.Time) bool {
	if t.State != stores.TokenLocked || p.Locked(t, now) {
		return false
	}
	t.State = stores.TokenActive
	t.FailCount = 0
	t.LockedAt = 0
	return true
}

// recordFailure bumps the fail counter and locks the token once the
// effective threshold is reached.
func (p *policyEngine) recordFailure(t *Token, now time.Time) {
	t.FailCount++
	if t.FailCount >= p.EffectiveMaxFail(t) {
		t.State = stores.TokenLocked
		t.LockedAt = now.Unix()
	}
}

// recordSuccess resets the failure tally after an accepted attempt.
func (p *policyEngine) recordSuccess(t *Token, now time.Time) {
	t.FailCount = 0
	t.LastSuccessAt = now.Unix()
}

// RequiredKinds resolves the multi-factor requirement for an owner:
// per-owner override first, then the engine default.
func (p *policyEngine) RequiredKinds(owner string) []TokenKind {
	if kinds, ok := p.cfg.RequiredKindsByOwner[owner]; ok {
		return append([]TokenKind(nil), kinds...)
	}
	return append([]TokenKind(nil), p.cfg.RequiredKinds...)
}
