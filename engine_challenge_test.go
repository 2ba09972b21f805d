package privacyidea

import (
	"context"
	"errors"
	"testing"
	"time"
)

func issueTestChallenge(t *testing.T, e *Engine, d *captureDeliverer, tokenID string) (*ChallengeReceipt, string) {
	t.Helper()

	receipt, err := e.IssueChallenge(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}
	response := d.Response(receipt.TransactionID)
	if response == "" {
		t.Fatal("deliverer received no response")
	}
	return receipt, response
}

func TestChallengeRoundTrip(t *testing.T) {
	engine, _, deliverer := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)

	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)
	if len(response) != engine.config.Challenge.ResponseDigits {
		t.Fatalf("response %q has %d digits, want %d", response, len(response), engine.config.Challenge.ResponseDigits)
	}

	verdict, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatalf("RespondChallenge failed: %v", err)
	}
	if verdict.Outcome != OutcomeSuccess {
		t.Fatalf("correct response: %s (%v)", verdict.Outcome, verdict.Reason)
	}
	if verdict.TokenID != tokenID || verdict.TransactionID != receipt.TransactionID {
		t.Fatalf("verdict identifies token=%s txn=%s", verdict.TokenID, verdict.TransactionID)
	}
}

func TestChallengeAnsweredExactlyOnce(t *testing.T) {
	engine, _, deliverer := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)
	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)

	if v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response); err != nil || v.Outcome != OutcomeSuccess {
		t.Fatalf("first respond: %v %v", v, err)
	}

	v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrChallengeAlreadyAnswered) {
		t.Fatalf("second respond: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestChallengeExpiryBeatsCorrectResponse(t *testing.T) {
	cfg := testConfig()
	engine, clock, deliverer := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)
	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)

	clock.Advance(cfg.Challenge.TTL + time.Second)

	v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrChallengeExpired) {
		t.Fatalf("expired challenge with correct response: %s (%v)", v.Outcome, v.Reason)
	}

	// Still expired on a second look, not unknown.
	v, err = engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(v.Reason, ErrChallengeExpired) {
		t.Fatalf("second look at expired challenge: %v", v.Reason)
	}
}

func TestChallengeWrongResponseBurnsAttempts(t *testing.T) {
	cfg := testConfig()
	engine, _, deliverer := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)
	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)

	wrong := "000000"
	if wrong == response {
		wrong = "111111"
	}

	for i := 1; i < cfg.Challenge.MaxAttempts; i++ {
		v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, wrong)
		if err != nil {
			t.Fatal(err)
		}
		if !errors.Is(v.Reason, ErrInvalidCredential) {
			t.Fatalf("attempt %d: %v", i, v.Reason)
		}
	}

	// Final attempt hits the cap and closes the challenge.
	v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, wrong)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(v.Reason, ErrChallengeAttemptsExceeded) {
		t.Fatalf("capped attempt: %v", v.Reason)
	}

	// The correct response is dead after the cap.
	v, err = engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(v.Reason, ErrChallengeAttemptsExceeded) {
		t.Fatalf("respond after cap: %v", v.Reason)
	}

	// Each wrong response also counted against the token.
	tok, err := engine.tokens.Load(context.Background(), tokenID)
	if err != nil {
		t.Fatal(err)
	}
	if tok.FailCount != cfg.Challenge.MaxAttempts {
		t.Fatalf("token failCount %d, want %d", tok.FailCount, cfg.Challenge.MaxAttempts)
	}
}

func TestChallengeRespondRejectsLockedToken(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.MaxFail = 2
	engine, clock, deliverer := newTestEngine(t, cfg)
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)
	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)

	wrong := "000000"
	if wrong == response {
		wrong = "111111"
	}

	// Enough wrong responses lock the token while the challenge itself
	// stays below its attempt cap and remains pending.
	for i := 0; i < cfg.Policy.MaxFail; i++ {
		v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, wrong)
		if err != nil {
			t.Fatal(err)
		}
		if !errors.Is(v.Reason, ErrInvalidCredential) {
			t.Fatalf("wrong response %d: %v", i, v.Reason)
		}
	}

	v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != OutcomeFailed || !errors.Is(v.Reason, ErrLockedOut) {
		t.Fatalf("correct response on locked token: %s (%v)", v.Outcome, v.Reason)
	}

	// The challenge was left pending, so it becomes answerable again
	// once the lockout lapses.
	clock.Advance(cfg.Policy.LockoutDuration + time.Second)
	v, err = engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != OutcomeSuccess {
		t.Fatalf("respond after lockout lapsed: %s (%v)", v.Outcome, v.Reason)
	}
}

func TestChallengeCancel(t *testing.T) {
	engine, _, deliverer := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)
	receipt, response := issueTestChallenge(t, engine, deliverer, tokenID)

	if err := engine.CancelChallenge(context.Background(), receipt.TransactionID); err != nil {
		t.Fatalf("CancelChallenge failed: %v", err)
	}
	// Cancel is idempotent.
	if err := engine.CancelChallenge(context.Background(), receipt.TransactionID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	v, err := engine.RespondChallenge(context.Background(), receipt.TransactionID, response)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != OutcomeFailed {
		t.Fatal("cancelled challenge must not verify")
	}
}

func TestChallengeUnknownTransaction(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	_, err := engine.RespondChallenge(context.Background(), "no-such-transaction", "123456")
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("unknown transaction: %v", err)
	}
}

func TestChallengeDeliveryFailure(t *testing.T) {
	engine, _, deliverer := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)

	deliverer.fail = true
	_, err := engine.IssueChallenge(context.Background(), tokenID)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("failed delivery: %v", err)
	}
}

func TestAuthenticateIssuesChallengeForChallengeToken(t *testing.T) {
	engine, _, deliverer := newTestEngine(t, testConfig())
	tokenID := enrollTestToken(t, engine, "alice", KindChallenge)

	// Empty code against a challenge token starts the exchange.
	v := mustAuthenticate(t, engine, AuthRequest{Owner: "alice"})
	if v.Outcome != OutcomeChallengePending {
		t.Fatalf("expected pending challenge, got %s (%v)", v.Outcome, v.Reason)
	}
	if v.TransactionID == "" || v.Prompt == "" {
		t.Fatalf("pending verdict missing handle: txn=%q prompt=%q", v.TransactionID, v.Prompt)
	}
	if v.TokenID != tokenID {
		t.Fatalf("challenge bound to %s, want %s", v.TokenID, tokenID)
	}

	// The response comes back through Authenticate with the transaction ID.
	response := deliverer.Response(v.TransactionID)
	final := mustAuthenticate(t, engine, AuthRequest{
		Owner:         "alice",
		Code:          response,
		TransactionID: v.TransactionID,
	})
	if final.Outcome != OutcomeSuccess {
		t.Fatalf("challenge response via Authenticate: %s (%v)", final.Outcome, final.Reason)
	}
}
