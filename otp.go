package privacyidea

import (
	"crypto/subtle"
	"encoding/base32"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// otpVerifier derives and compares one-time codes. It is stateless; the
// counter and last-accepted-step bookkeeping live on the token record and
// are committed by the engine.
type otpVerifier struct {
	digits    otp.Digits
	period    int64
	skew      int
	algorithm otp.Algorithm
}

func newOTPVerifier(cfg OTPConfig) *otpVerifier {
	v := &otpVerifier{
		digits:    otp.DigitsSix,
		period:    int64(cfg.Period),
		skew:      cfg.Skew,
		algorithm: otp.AlgorithmSHA1,
	}
	if cfg.Digits == 8 {
		v.digits = otp.DigitsEight
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		v.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		v.algorithm = otp.AlgorithmSHA512
	}
	return v
}

// validCodeFormat rejects inputs that cannot be an OTP before any HMAC
// work: wrong length or non-digit characters.
func (v *otpVerifier) validCodeFormat(code string) bool {
	if len(code) != v.digits.Length() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func (v *otpVerifier) opts() hotp.ValidateOpts {
	return hotp.ValidateOpts{Digits: v.digits, Algorithm: v.algorithm}
}

func (v *otpVerifier) codeAt(secret string, counter uint64) (string, error) {
	return hotp.GenerateCodeCustom(secret, counter, v.opts())
}

// decodeBase32Secret accepts the unpadded uppercase base32 form tokens
// store their secrets in, tolerating lowercase and trailing padding.
func decodeBase32Secret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimRight(secret, "="))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
}

func codesEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifyCounter searches the counter window [counter, counter+window] in
// ascending order for a match. On success the returned matched value is
// the counter the code was derived from; the caller advances the token to
// matched+1.
func (v *otpVerifier) VerifyCounter(secret, code string, counter int64, window int) (matched int64, ok bool, err error) {
	if !v.validCodeFormat(code) {
		return 0, false, nil
	}
	if counter < 0 {
		counter = 0
	}
	for i := int64(0); i <= int64(window); i++ {
		c := counter + i
		want, genErr := v.codeAt(secret, uint64(c))
		if genErr != nil {
			return 0, false, genErr
		}
		if codesEqual(want, code) {
			return c, true, nil
		}
	}
	return 0, false, nil
}

// VerifyTime checks a time-based code against steps now-skew..now+skew.
// lastStep is the highest step already accepted for this token; a code
// that matches a step at or below it is a replay, reported via the
// replayed flag so the caller can distinguish it from a plain mismatch.
// On success matched is the accepted step, which becomes the new lastStep.
func (v *otpVerifier) VerifyTime(secret, code string, lastStep int64, at time.Time) (matched int64, ok, replayed bool, err error) {
	if !v.validCodeFormat(code) {
		return 0, false, false, nil
	}
	step := at.Unix() / v.period
	for off := -v.skew; off <= v.skew; off++ {
		s := step + int64(off)
		if s < 0 {
			continue
		}
		want, genErr := v.codeAt(secret, uint64(s))
		if genErr != nil {
			return 0, false, false, genErr
		}
		if !codesEqual(want, code) {
			continue
		}
		if s <= lastStep {
			return 0, false, true, nil
		}
		return s, true, false, nil
	}
	return 0, false, false, nil
}
