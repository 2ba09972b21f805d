package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// ID is a compact 128-bit random identifier used for multi-factor
// sessions. It renders as unpadded base64url.
type ID [16]byte

// NewID returns a cryptographically random identifier.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes the base64url form produced by String.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NumericCode returns a uniformly random decimal string of the given
// length, zero-padded. Used for out-of-band challenge responses.
func NumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 10 {
		return "", errors.New("invalid code length")
	}

	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}

	code := n.String()
	if pad := digits - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}
