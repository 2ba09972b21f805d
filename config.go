package privacyidea

import (
	"errors"
	"strings"
	"time"
)

// Config carries every tunable of the validation engine. Configure it
// before Build; the engine treats it as immutable afterwards.
type Config struct {
	OTP       OTPConfig
	Policy    PolicyConfig
	Challenge ChallengeConfig
	Session   SessionConfig
	Proof     ProofConfig
	Store     StoreConfig
	Audit     AuditConfig
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig fixes the code-derivation parameters shared by all HOTP and
// TOTP tokens the engine verifies.
type OTPConfig struct {
	Digits    int    // 6 or 8
	Period    int    // TOTP step length in seconds
	Skew      int    // TOTP steps accepted either side of now
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig is the policy set evaluated on every attempt. Per-token
// MaxFail/LockoutSeconds/SyncWindow overrides take precedence when set.
type PolicyConfig struct {
	MaxFail         int
	LockoutDuration time.Duration // 0 = manual unlock only
	SyncWindow      int           // HOTP look-ahead counters

	// AllowedKinds restricts which token kinds may authenticate.
	// Empty means all kinds.
	AllowedKinds []TokenKind

	// RequiredKinds is the default multi-factor requirement used when
	// BeginSession is called without explicit kinds. Per-owner overrides
	// win over the default.
	RequiredKinds        []TokenKind
	RequiredKindsByOwner map[string][]TokenKind

	// SuppressLockedOut collapses the lockedOut verdict into
	// invalidCredential for anti-enumeration deployments. The audit
	// trail always records the true reason.
	SuppressLockedOut bool
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig governs out-of-band challenge issuance and response.
type ChallengeConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResponseDigits int
	// Retention keeps terminal challenge records observable after expiry
	// so a late respond is reported as expired/answered, not unknown.
	Retention time.Duration
	Prompt    string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig governs multi-factor session lifetimes.
type SessionConfig struct {
	TTL time.Duration
	// Retention mirrors ChallengeConfig.Retention for closed sessions.
	Retention time.Duration
}

/*
====================================
PROOF CONFIG
====================================
*/

// ProofConfig enables signed attestations of satisfied multi-factor
// sessions. Disabled by default.
type ProofConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig governs the store boundary: key namespacing for the Redis
// stores and the bounded retry applied to transient backend failures.
// Commit conflicts are never retried through this mechanism.
type StoreConfig struct {
	RedisPrefix  string
	MaxRetries   int
	RetryBackoff time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; dropped events are counted and
	// reported via Engine.AuditDropped.
	DropIfFull bool
}

// DefaultConfig returns the configuration an engine starts from: RFC
// defaults for OTP, five failures to lockout with a five-minute window,
// two-minute challenges, five-minute sessions, audit enabled.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Policy: PolicyConfig{
			MaxFail:         5,
			LockoutDuration: 5 * time.Minute,
			SyncWindow:      10,
		},
		Challenge: ChallengeConfig{
			TTL:            2 * time.Minute,
			MaxAttempts:    3,
			ResponseDigits: 6,
			Retention:      10 * time.Minute,
			Prompt:         "enter the code delivered to your device",
		},
		Session: SessionConfig{
			TTL:       5 * time.Minute,
			Retention: 10 * time.Minute,
		},
		Store: StoreConfig{
			RedisPrefix:  "pi",
			MaxRetries:   2,
			RetryBackoff: 50 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Policy.AllowedKinds = append([]TokenKind(nil), cfg.Policy.AllowedKinds...)
	out.Policy.RequiredKinds = append([]TokenKind(nil), cfg.Policy.RequiredKinds...)
	if cfg.Policy.RequiredKindsByOwner != nil {
		out.Policy.RequiredKindsByOwner = make(map[string][]TokenKind, len(cfg.Policy.RequiredKindsByOwner))
		for owner, kinds := range cfg.Policy.RequiredKindsByOwner {
			out.Policy.RequiredKindsByOwner[owner] = append([]TokenKind(nil), kinds...)
		}
	}
	out.Proof.PrivateKey = cloneBytes(cfg.Proof.PrivateKey)
	out.Proof.PublicKey = cloneBytes(cfg.Proof.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	if c.OTP.Digits != 6 && c.OTP.Digits != 8 {
		return errors.New("OTP.Digits must be 6 or 8")
	}
	if c.OTP.Period <= 0 {
		return errors.New("OTP.Period must be positive")
	}
	if c.OTP.Skew < 0 {
		return errors.New("OTP.Skew must not be negative")
	}
	switch strings.ToUpper(c.OTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("OTP.Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.Policy.MaxFail <= 0 {
		return errors.New("Policy.MaxFail must be positive")
	}
	if c.Policy.LockoutDuration < 0 {
		return errors.New("Policy.LockoutDuration must not be negative")
	}
	if c.Policy.SyncWindow < 0 {
		return errors.New("Policy.SyncWindow must not be negative")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge.TTL must be positive")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge.MaxAttempts must be positive")
	}
	if c.Challenge.ResponseDigits < 4 || c.Challenge.ResponseDigits > 10 {
		return errors.New("Challenge.ResponseDigits must be between 4 and 10")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session.TTL must be positive")
	}
	if c.Store.MaxRetries < 0 {
		return errors.New("Store.MaxRetries must not be negative")
	}
	if c.Proof.Enabled {
		if c.Proof.TTL <= 0 {
			return errors.New("Proof.TTL must be positive when proof issuance is enabled")
		}
		if len(c.Proof.PrivateKey) == 0 {
			return errors.New("Proof.PrivateKey required when proof issuance is enabled")
		}
	}
	return nil
}
