package privacyidea

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAuthenticateHOTPSuccessAdvancesCounter(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	verdict := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if verdict.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", verdict.Outcome, verdict.Reason)
	}
	if verdict.TokenID != tokenID {
		t.Fatalf("verdict token %s, want %s", verdict.TokenID, tokenID)
	}

	tok, err := engine.tokens.Load(context.Background(), tokenID)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Counter != 1 {
		t.Fatalf("counter %d after success, want 1", tok.Counter)
	}
	if tok.FailCount != 0 {
		t.Fatalf("failCount %d after success, want 0", tok.FailCount)
	}
}

func TestAuthenticateHOTPReusedCodeFails(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	enrollTestToken(t, engine, "alice", KindHOTP)

	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("first attempt: %s (%v)", v.Outcome, v.Reason)
	}
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrInvalidCredential) {
		t.Fatalf("reused HOTP code: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateHOTPDriftWindow(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	// Device drifted to counter 7; default sync window covers it.
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[7]})
	if v.Outcome != OutcomeSuccess {
		t.Fatalf("drifted code: %s (%v)", v.Outcome, v.Reason)
	}
	tok, _ := engine.tokens.Load(context.Background(), tokenID)
	if tok.Counter != 8 {
		t.Fatalf("counter %d after drift match, want 8", tok.Counter)
	}

	// The skipped counters 0..6 are burned.
	v = mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[5]})
	if v.Outcome != OutcomeFailed {
		t.Fatalf("skipped counter must not verify, got %s", v.Outcome)
	}
}

func TestAuthenticateTOTPReplay(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	enrollTestToken(t, engine, "alice", KindTOTP)

	// Clock sits inside step 3.
	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[3]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("first TOTP attempt: %s (%v)", v.Outcome, v.Reason)
	}

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[3]})
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrReplay) {
		t.Fatalf("replayed TOTP code: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateTOTPNextStepAfterReplayWindow(t *testing.T) {
	engine, clock, _ := newTestEngine(t, testConfig())
	enrollTestToken(t, engine, "alice", KindTOTP)

	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[3]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("step 3: %s (%v)", v.Outcome, v.Reason)
	}

	clock.Advance(30 * time.Second)
	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[4]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("step 4: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateLockoutAfterMaxFail(t *testing.T) {
	cfg := testConfig()
	engine, _, _ := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	for i := 0; i < cfg.Policy.MaxFail; i++ {
		v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: "000000"})
		if v.Outcome != OutcomeFailed {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	tok, _ := engine.tokens.Load(context.Background(), tokenID)
	if tok.State != TokenLocked {
		t.Fatalf("token state %v after %d failures, want locked", tok.State, cfg.Policy.MaxFail)
	}

	// Correct code rejected while locked.
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrLockedOut) {
		t.Fatalf("locked token: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateLockoutExpires(t *testing.T) {
	cfg := testConfig()
	engine, clock, _ := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	for i := 0; i < cfg.Policy.MaxFail; i++ {
		mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: "000000"})
	}

	clock.Advance(cfg.Policy.LockoutDuration + time.Second)

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeSuccess {
		t.Fatalf("after lockout window: %s (%v)", v.Outcome, v.Reason)
	}

	tok, _ := engine.tokens.Load(context.Background(), tokenID)
	if tok.State != TokenActive || tok.FailCount != 0 {
		t.Fatalf("state=%v failCount=%d after lapsed lockout, want active/0", tok.State, tok.FailCount)
	}
}

func TestAuthenticateSuppressLockedOut(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.SuppressLockedOut = true
	engine, _, _ := newTestEngine(t, cfg)
	enrollTestToken(t, engine, "alice", KindHOTP)

	for i := 0; i < cfg.Policy.MaxFail; i++ {
		mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: "000000"})
	}

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if !errors.Is(v.Reason, ErrInvalidCredential) {
		t.Fatalf("suppressed lockout should report invalid credential, got %v", v.Reason)
	}
	if errors.Is(v.Reason, ErrLockedOut) {
		t.Fatal("suppressed lockout leaked ErrLockedOut")
	}
}

func TestAuthenticateManualUnlock(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.LockoutDuration = 0 // manual unlock only
	engine, _, _ := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	for i := 0; i < cfg.Policy.MaxFail; i++ {
		mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: "000000"})
	}

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if !errors.Is(v.Reason, ErrLockedOut) {
		t.Fatalf("expected lockout without auto-unlock, got %v", v.Reason)
	}

	if err := engine.UnlockToken(context.Background(), tokenID); err != nil {
		t.Fatalf("UnlockToken failed: %v", err)
	}
	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("after manual unlock: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateUnknownExplicitTokens(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	_, err := engine.Authenticate(context.Background(), AuthRequest{
		Owner:    "alice",
		Code:     rfcCodes[0],
		TokenIDs: []string{"no-such-token"},
	})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for explicit unknown IDs, got %v", err)
	}
}

func TestAuthenticateUnknownOwnerIsInvalidCredential(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	// No enrollment lookup leak: an owner with no tokens fails the same
	// way as a wrong code.
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "nobody", Code: rfcCodes[0]})
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrInvalidCredential) {
		t.Fatalf("unknown owner: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticateDisabledTokenSkipped(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	tok, _ := engine.tokens.Load(context.Background(), tokenID)
	tok.State = TokenDisabled
	if err := engine.tokens.CompareAndCommit(context.Background(), tok); err != nil {
		t.Fatal(err)
	}

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrInvalidCredential) {
		t.Fatalf("disabled token: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestAuthenticatePriorityOrder(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	ctx := context.Background()
	low, err := engine.EnrollToken(ctx, EnrollRequest{Owner: "alice", Kind: KindHOTP, Secret: rfcSecret, Priority: 1})
	if err != nil {
		t.Fatal(err)
	}
	high, err := engine.EnrollToken(ctx, EnrollRequest{Owner: "alice", Kind: KindHOTP, Secret: rfcSecret, Priority: 5})
	if err != nil {
		t.Fatal(err)
	}

	// Both tokens share a secret at counter 0; the higher priority one
	// must win the match.
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeSuccess || v.TokenID != high.TokenID {
		t.Fatalf("matched %s, want high priority %s (low %s)", v.TokenID, high.TokenID, low.TokenID)
	}
}

func TestAuthenticateOwnerMismatchFiltered(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	_, err := engine.Authenticate(context.Background(), AuthRequest{
		Owner:    "mallory",
		Code:     rfcCodes[0],
		TokenIDs: []string{tokenID},
	})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("foreign token reference: %v", err)
	}
}

func TestAuthenticateRedisBackend(t *testing.T) {
	engine, _ := newRedisTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindHOTP)

	if v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]}); v.Outcome != OutcomeSuccess {
		t.Fatalf("redis-backed success: %s (%v)", v.Outcome, v.Reason)
	}

	tok, err := engine.tokens.Load(context.Background(), tokenID)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Counter != 1 {
		t.Fatalf("redis-backed counter %d, want 1", tok.Counter)
	}

	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice", Code: rfcCodes[0]})
	if v.Outcome != OutcomeFailed {
		t.Fatal("redis-backed reuse must fail")
	}
}
