package privacyidea

import (
	"testing"
	"time"

	"github.com/runt18/privacyidea/internal/stores"
)

func testPolicy() *policyEngine {
	return newPolicyEngine(PolicyConfig{
		MaxFail:         3,
		LockoutDuration: time.Minute,
		SyncWindow:      5,
	})
}

func TestPolicyKindAllowed(t *testing.T) {
	p := testPolicy()
	if !p.KindAllowed(KindHOTP) || !p.KindAllowed(KindChallenge) {
		t.Fatal("empty AllowedKinds must allow everything")
	}

	p.cfg.AllowedKinds = []TokenKind{KindTOTP}
	if p.KindAllowed(KindHOTP) {
		t.Fatal("hotp should be rejected")
	}
	if !p.KindAllowed(KindTOTP) {
		t.Fatal("totp should be allowed")
	}
}

func TestPolicyPerTokenOverrides(t *testing.T) {
	p := testPolicy()
	tok := &Token{}

	if got := p.EffectiveMaxFail(tok); got != 3 {
		t.Fatalf("default MaxFail = %d", got)
	}
	if got := p.EffectiveLockout(tok); got != time.Minute {
		t.Fatalf("default lockout = %v", got)
	}
	if got := p.EffectiveWindow(tok); got != 5 {
		t.Fatalf("default window = %d", got)
	}

	tok.MaxFail = 10
	tok.LockoutSeconds = 300
	tok.SyncWindow = 2
	if got := p.EffectiveMaxFail(tok); got != 10 {
		t.Fatalf("override MaxFail = %d", got)
	}
	if got := p.EffectiveLockout(tok); got != 5*time.Minute {
		t.Fatalf("override lockout = %v", got)
	}
	if got := p.EffectiveWindow(tok); got != 2 {
		t.Fatalf("override window = %d", got)
	}
}

func TestPolicyLockAndLazyUnlock(t *testing.T) {
	p := testPolicy()
	now := time.Unix(1000, 0)
	tok := &Token{State: stores.TokenActive}

	p.recordFailure(tok, now)
	p.recordFailure(tok, now)
	if tok.State != stores.TokenActive {
		t.Fatal("two failures must not lock at MaxFail 3")
	}
	p.recordFailure(tok, now)
	if tok.State != stores.TokenLocked || tok.LockedAt != now.Unix() {
		t.Fatalf("third failure must lock, state=%v lockedAt=%d", tok.State, tok.LockedAt)
	}

	if !p.Locked(tok, now.Add(59*time.Second)) {
		t.Fatal("still inside lockout window")
	}
	if p.Locked(tok, now.Add(time.Minute)) {
		t.Fatal("lockout window elapsed")
	}

	if p.unlockIfExpired(tok, now.Add(30*time.Second)) {
		t.Fatal("must not unlock early")
	}
	if !p.unlockIfExpired(tok, now.Add(2*time.Minute)) {
		t.Fatal("expected unlock")
	}
	if tok.State != stores.TokenActive || tok.FailCount != 0 || tok.LockedAt != 0 {
		t.Fatalf("unlock must reset state, got %+v", tok)
	}
	if p.unlockIfExpired(tok, now.Add(2*time.Minute)) {
		t.Fatal("second call must be a no-op")
	}
}

func TestPolicyManualUnlockOnly(t *testing.T) {
	p := newPolicyEngine(PolicyConfig{MaxFail: 1, LockoutDuration: 0})
	now := time.Unix(1000, 0)
	tok := &Token{State: stores.TokenActive}

	p.recordFailure(tok, now)
	if tok.State != stores.TokenLocked {
		t.Fatal("expected lock")
	}
	if !p.Locked(tok, now.Add(24*time.Hour)) {
		t.Fatal("zero lockout duration means locked until manual unlock")
	}
	if p.unlockIfExpired(tok, now.Add(24*time.Hour)) {
		t.Fatal("lazy unlock must never fire without a window")
	}
}

func TestPolicyRecordSuccessResets(t *testing.T) {
	p := testPolicy()
	now := time.Unix(2000, 0)
	tok := &Token{FailCount: 2}

	p.recordSuccess(tok, now)
	if tok.FailCount != 0 {
		t.Fatal("success must reset FailCount")
	}
	if tok.LastSuccessAt != now.Unix() {
		t.Fatalf("LastSuccessAt = %d", tok.LastSuccessAt)
	}
}

func TestPolicyRequiredKinds(t *testing.T) {
	p := newPolicyEngine(PolicyConfig{
		RequiredKinds: []TokenKind{KindHOTP},
		RequiredKindsByOwner: map[string][]TokenKind{
			"alice": {KindHOTP, KindTOTP},
		},
	})

	got := p.RequiredKinds("alice")
	if len(got) != 2 || got[0] != KindHOTP || got[1] != KindTOTP {
		t.Fatalf("per-owner kinds %v", got)
	}
	got = p.RequiredKinds("bob")
	if len(got) != 1 || got[0] != KindHOTP {
		t.Fatalf("default kinds %v", got)
	}

	// Returned slice is a copy.
	got[0] = KindChallenge
	if p.cfg.RequiredKinds[0] != KindHOTP {
		t.Fatal("RequiredKinds returned shared slice")
	}
}
