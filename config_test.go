package privacyidea

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig must validate: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"digits", func(c *Config) { c.OTP.Digits = 7 }},
		{"period", func(c *Config) { c.OTP.Period = 0 }},
		{"skew", func(c *Config) { c.OTP.Skew = -1 }},
		{"algorithm", func(c *Config) { c.OTP.Algorithm = "MD5" }},
		{"maxFail", func(c *Config) { c.Policy.MaxFail = 0 }},
		{"lockout", func(c *Config) { c.Policy.LockoutDuration = -time.Second }},
		{"syncWindow", func(c *Config) { c.Policy.SyncWindow = -1 }},
		{"challengeTTL", func(c *Config) { c.Challenge.TTL = 0 }},
		{"challengeAttempts", func(c *Config) { c.Challenge.MaxAttempts = 0 }},
		{"responseDigits", func(c *Config) { c.Challenge.ResponseDigits = 3 }},
		{"sessionTTL", func(c *Config) { c.Session.TTL = 0 }},
		{"storeRetries", func(c *Config) { c.Store.MaxRetries = -1 }},
		{"proofTTL", func(c *Config) { c.Proof.Enabled = true; c.Proof.PrivateKey = []byte("k") }},
		{"proofKey", func(c *Config) { c.Proof.Enabled = true; c.Proof.TTL = time.Minute }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RequiredKinds = []TokenKind{KindHOTP}
	cfg.Policy.RequiredKindsByOwner = map[string][]TokenKind{"alice": {KindTOTP}}
	cfg.Proof.PrivateKey = []byte("secret")

	cp := cloneConfig(cfg)
	cfg.Policy.RequiredKinds[0] = KindTOTP
	cfg.Policy.RequiredKindsByOwner["alice"][0] = KindHOTP
	cfg.Proof.PrivateKey[0] = 'X'

	if cp.Policy.RequiredKinds[0] != KindHOTP {
		t.Fatal("RequiredKinds not cloned")
	}
	if cp.Policy.RequiredKindsByOwner["alice"][0] != KindTOTP {
		t.Fatal("RequiredKindsByOwner not cloned")
	}
	if cp.Proof.PrivateKey[0] != 's' {
		t.Fatal("Proof.PrivateKey not cloned")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := `
otp:
  digits: 8
  period: 60
  algorithm: SHA256
policy:
  max_fail: 7
  lockout_duration: 10m
  sync_window: 4
  allowed_kinds: [hotp, totp]
  required_kinds: [totp]
  suppress_locked_out: true
challenge:
  ttl: 90s
  max_attempts: 5
  response_digits: 8
session:
  ttl: 3m
store:
  redis_prefix: mfa
audit:
  buffer_size: 512
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.OTP.Digits != 8 || cfg.OTP.Period != 60 || cfg.OTP.Algorithm != "SHA256" {
		t.Fatalf("OTP section %+v", cfg.OTP)
	}
	if cfg.OTP.Skew != 1 {
		t.Fatalf("unset skew should keep default 1, got %d", cfg.OTP.Skew)
	}
	if cfg.Policy.MaxFail != 7 || cfg.Policy.LockoutDuration != 10*time.Minute || cfg.Policy.SyncWindow != 4 {
		t.Fatalf("Policy section %+v", cfg.Policy)
	}
	if !cfg.Policy.SuppressLockedOut {
		t.Fatal("SuppressLockedOut not loaded")
	}
	if len(cfg.Policy.AllowedKinds) != 2 || cfg.Policy.AllowedKinds[0] != KindHOTP {
		t.Fatalf("AllowedKinds %v", cfg.Policy.AllowedKinds)
	}
	if len(cfg.Policy.RequiredKinds) != 1 || cfg.Policy.RequiredKinds[0] != KindTOTP {
		t.Fatalf("RequiredKinds %v", cfg.Policy.RequiredKinds)
	}
	if cfg.Challenge.TTL != 90*time.Second || cfg.Challenge.MaxAttempts != 5 || cfg.Challenge.ResponseDigits != 8 {
		t.Fatalf("Challenge section %+v", cfg.Challenge)
	}
	if cfg.Session.TTL != 3*time.Minute {
		t.Fatalf("Session TTL %v", cfg.Session.TTL)
	}
	if cfg.Store.RedisPrefix != "mfa" {
		t.Fatalf("RedisPrefix %q", cfg.Store.RedisPrefix)
	}
	if cfg.Audit.BufferSize != 512 {
		t.Fatalf("Audit.BufferSize %d", cfg.Audit.BufferSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Challenge.Retention != DefaultConfig().Challenge.Retention {
		t.Fatalf("Challenge.Retention %v", cfg.Challenge.Retention)
	}
}

func TestLoadConfigRejectsBadKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  allowed_kinds: [passkey]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestLoadConfigRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte("otp:\n  digits: 9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation failure")
	}
}
