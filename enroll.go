package privacyidea

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"github.com/runt18/privacyidea/internal/stores"
)

// EnrollRequest describes a token to create. Secret is optional; when
// empty a fresh secret is generated and returned in the Enrollment.
type EnrollRequest struct {
	Owner  string
	Kind   TokenKind
	Secret string // base32, no padding
	Issuer string

	// Per-token policy overrides. Zero means the engine default.
	MaxFail        int
	LockoutSeconds int
	SyncWindow     int
	Priority       int
}

// Enrollment is the result of enrolling a token. Secret and URI are
// returned exactly once; the engine never exposes them again.
type Enrollment struct {
	TokenID string
	Secret  string
	// URI is the otpauth provisioning URI for QR display. Empty for
	// challenge tokens, which have no device-held secret to provision.
	URI string
}

// EnrollToken creates a token record for an owner. HOTP tokens start at
// counter zero; TOTP tokens accept any step strictly after enrollment.
func (e *Engine) EnrollToken(ctx context.Context, req EnrollRequest) (*Enrollment, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if req.Owner == "" {
		return nil, ErrPolicyViolation
	}
	if !e.policy.KindAllowed(req.Kind) {
		return nil, ErrPolicyViolation
	}

	issuer := req.Issuer
	if issuer == "" {
		issuer = "privacyidea"
	}

	var (
		secret string
		uri    string
		err    error
	)
	switch req.Kind {
	case stores.KindTOTP:
		secret, uri, err = e.generateTOTPKey(issuer, req.Owner, req.Secret)
	case stores.KindHOTP:
		secret, uri, err = e.generateHOTPKey(issuer, req.Owner, req.Secret)
	case stores.KindChallenge:
		// Challenge tokens hold a secret only so a stolen store dump
		// cannot distinguish them; it is never provisioned anywhere.
		secret = strings.ToUpper(strings.TrimRight(req.Secret, "="))
		if secret == "" {
			secret, _, err = e.generateTOTPKey(issuer, req.Owner, "")
			uri = ""
		}
	default:
		return nil, ErrPolicyViolation
	}
	if err != nil {
		return nil, err
	}

	tok := &Token{
		ID:             uuid.NewString(),
		Owner:          req.Owner,
		Kind:           req.Kind,
		Secret:         secret,
		State:          stores.TokenActive,
		MaxFail:        req.MaxFail,
		LockoutSeconds: req.LockoutSeconds,
		SyncWindow:     req.SyncWindow,
		Priority:       req.Priority,
	}

	err = e.withStoreRetry(ctx, func(ctx context.Context) error {
		return e.tokens.Create(ctx, tok)
	})
	if err != nil {
		if errors.Is(err, stores.ErrExists) {
			return nil, ErrTokenExists
		}
		return nil, err
	}

	e.emitAudit(ctx, auditEventTokenEnrolled, true, req.Owner, tok.ID, "", "", nil, func() map[string]string {
		return map[string]string{"kind": req.Kind.String()}
	})

	return &Enrollment{TokenID: tok.ID, Secret: secret, URI: uri}, nil
}

func (e *Engine) generateTOTPKey(issuer, owner, secret string) (string, string, error) {
	opts := totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: owner,
		Period:      uint(e.config.OTP.Period),
		SecretSize:  20,
		Digits:      e.otp.digits,
		Algorithm:   e.otp.algorithm,
	}
	if secret != "" {
		raw, err := decodeBase32Secret(secret)
		if err != nil {
			return "", "", err
		}
		opts.Secret = raw
	}
	key, err := totp.Generate(opts)
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func (e *Engine) generateHOTPKey(issuer, owner, secret string) (string, string, error) {
	opts := hotp.GenerateOpts{
		Issuer:      issuer,
		AccountName: owner,
		SecretSize:  20,
		Digits:      e.otp.digits,
		Algorithm:   e.otp.algorithm,
	}
	if secret != "" {
		raw, err := decodeBase32Secret(secret)
		if err != nil {
			return "", "", err
		}
		opts.Secret = raw
	}
	key, err := hotp.Generate(opts)
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
