package privacyidea

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/runt18/privacyidea/internal/stores"
)

// fileConfig is the on-disk shape of the engine configuration. Durations
// are strings ("30s", "5m") and token kinds are their lowercase names.
type fileConfig struct {
	OTP struct {
		Digits    int    `mapstructure:"digits"`
		Period    int    `mapstructure:"period"`
		Skew      int    `mapstructure:"skew"`
		Algorithm string `mapstructure:"algorithm"`
	} `mapstructure:"otp"`
	Policy struct {
		MaxFail           int      `mapstructure:"max_fail"`
		LockoutDuration   string   `mapstructure:"lockout_duration"`
		SyncWindow        int      `mapstructure:"sync_window"`
		AllowedKinds      []string `mapstructure:"allowed_kinds"`
		RequiredKinds     []string `mapstructure:"required_kinds"`
		SuppressLockedOut bool     `mapstructure:"suppress_locked_out"`
	} `mapstructure:"policy"`
	Challenge struct {
		TTL            string `mapstructure:"ttl"`
		MaxAttempts    int    `mapstructure:"max_attempts"`
		ResponseDigits int    `mapstructure:"response_digits"`
		Retention      string `mapstructure:"retention"`
		Prompt         string `mapstructure:"prompt"`
	} `mapstructure:"challenge"`
	Session struct {
		TTL       string `mapstructure:"ttl"`
		Retention string `mapstructure:"retention"`
	} `mapstructure:"session"`
	Proof struct {
		Enabled       bool   `mapstructure:"enabled"`
		TTL           string `mapstructure:"ttl"`
		SigningMethod string `mapstructure:"signing_method"`
		PrivateKey    string `mapstructure:"private_key"`
		PublicKey     string `mapstructure:"public_key"`
		Issuer        string `mapstructure:"issuer"`
	} `mapstructure:"proof"`
	Store struct {
		RedisPrefix  string `mapstructure:"redis_prefix"`
		MaxRetries   int    `mapstructure:"max_retries"`
		RetryBackoff string `mapstructure:"retry_backoff"`
	} `mapstructure:"store"`
	Audit struct {
		Enabled    bool `mapstructure:"enabled"`
		BufferSize int  `mapstructure:"buffer_size"`
		DropIfFull bool `mapstructure:"drop_if_full"`
	} `mapstructure:"audit"`
}

// LoadConfig reads engine configuration from a YAML file, letting
// PRIVACYIDEA_* environment variables override individual keys
// (PRIVACYIDEA_POLICY_MAX_FAIL and so on). Unset keys keep the
// DefaultConfig value; the result is validated before it is returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PRIVACYIDEA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, err
	}

	if fc.OTP.Digits != 0 {
		cfg.OTP.Digits = fc.OTP.Digits
	}
	if fc.OTP.Period != 0 {
		cfg.OTP.Period = fc.OTP.Period
	}
	if v.IsSet("otp.skew") {
		cfg.OTP.Skew = fc.OTP.Skew
	}
	if fc.OTP.Algorithm != "" {
		cfg.OTP.Algorithm = fc.OTP.Algorithm
	}

	if fc.Policy.MaxFail != 0 {
		cfg.Policy.MaxFail = fc.Policy.MaxFail
	}
	if err := overrideDuration(&cfg.Policy.LockoutDuration, fc.Policy.LockoutDuration); err != nil {
		return Config{}, err
	}
	if fc.Policy.SyncWindow != 0 {
		cfg.Policy.SyncWindow = fc.Policy.SyncWindow
	}
	if len(fc.Policy.AllowedKinds) > 0 {
		kinds, err := parseKinds(fc.Policy.AllowedKinds)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy.AllowedKinds = kinds
	}
	if len(fc.Policy.RequiredKinds) > 0 {
		kinds, err := parseKinds(fc.Policy.RequiredKinds)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy.RequiredKinds = kinds
	}
	cfg.Policy.SuppressLockedOut = fc.Policy.SuppressLockedOut

	if err := overrideDuration(&cfg.Challenge.TTL, fc.Challenge.TTL); err != nil {
		return Config{}, err
	}
	if fc.Challenge.MaxAttempts != 0 {
		cfg.Challenge.MaxAttempts = fc.Challenge.MaxAttempts
	}
	if fc.Challenge.ResponseDigits != 0 {
		cfg.Challenge.ResponseDigits = fc.Challenge.ResponseDigits
	}
	if err := overrideDuration(&cfg.Challenge.Retention, fc.Challenge.Retention); err != nil {
		return Config{}, err
	}
	if fc.Challenge.Prompt != "" {
		cfg.Challenge.Prompt = fc.Challenge.Prompt
	}

	if err := overrideDuration(&cfg.Session.TTL, fc.Session.TTL); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.Session.Retention, fc.Session.Retention); err != nil {
		return Config{}, err
	}

	cfg.Proof.Enabled = fc.Proof.Enabled
	if err := overrideDuration(&cfg.Proof.TTL, fc.Proof.TTL); err != nil {
		return Config{}, err
	}
	cfg.Proof.SigningMethod = fc.Proof.SigningMethod
	if fc.Proof.PrivateKey != "" {
		cfg.Proof.PrivateKey = []byte(fc.Proof.PrivateKey)
	}
	if fc.Proof.PublicKey != "" {
		cfg.Proof.PublicKey = []byte(fc.Proof.PublicKey)
	}
	cfg.Proof.Issuer = fc.Proof.Issuer

	if fc.Store.RedisPrefix != "" {
		cfg.Store.RedisPrefix = fc.Store.RedisPrefix
	}
	if v.IsSet("store.max_retries") {
		cfg.Store.MaxRetries = fc.Store.MaxRetries
	}
	if err := overrideDuration(&cfg.Store.RetryBackoff, fc.Store.RetryBackoff); err != nil {
		return Config{}, err
	}

	if v.IsSet("audit.enabled") {
		cfg.Audit.Enabled = fc.Audit.Enabled
	}
	if fc.Audit.BufferSize != 0 {
		cfg.Audit.BufferSize = fc.Audit.BufferSize
	}
	if v.IsSet("audit.drop_if_full") {
		cfg.Audit.DropIfFull = fc.Audit.DropIfFull
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func parseKinds(names []string) ([]TokenKind, error) {
	kinds := make([]TokenKind, 0, len(names))
	for _, name := range names {
		kind, err := stores.ParseKind(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
