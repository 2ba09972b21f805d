package stores

import "fmt"

// TokenKind identifies the verification algorithm an enrolled token uses.
type TokenKind uint8

const (
	// KindHOTP is a counter-based one-time-password token (RFC 4226).
	KindHOTP TokenKind = iota
	// KindTOTP is a time-based one-time-password token (RFC 6238).
	KindTOTP
	// KindChallenge is an out-of-band challenge/response token.
	KindChallenge
)

func (k TokenKind) String() string {
	switch k {
	case KindHOTP:
		return "hotp"
	case KindTOTP:
		return "totp"
	case KindChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of String.
func ParseKind(name string) (TokenKind, error) {
	switch name {
	case "hotp":
		return KindHOTP, nil
	case "totp":
		return KindTOTP, nil
	case "challenge":
		return KindChallenge, nil
	default:
		return 0, fmt.Errorf("unknown token kind %q", name)
	}
}

// TokenState is the lifecycle state of an enrolled token.
type TokenState uint8

const (
	// TokenActive tokens accept verification attempts.
	TokenActive TokenState = iota
	// TokenLocked tokens reject attempts until the lockout window elapses
	// or an explicit unlock occurs.
	TokenLocked
	// TokenDisabled tokens are administratively suspended.
	TokenDisabled
)

// Token is the persisted state of one enrolled authentication factor.
//
// Counter is the next expected counter for HOTP tokens and the last
// accepted time step for TOTP tokens; it only ever advances. Version is a
// monotonic commit counter: every CompareAndCommit must present the
// Version it loaded, and the store rejects the write if another commit
// landed in between.
type Token struct {
	ID      string
	Owner   string
	Kind    TokenKind
	Secret  string // base32, opaque to the stores
	Counter int64

	FailCount      int
	MaxFail        int // 0 = policy default
	LockoutSeconds int // 0 = policy default
	SyncWindow     int // 0 = policy default
	Priority       int

	State         TokenState
	LastSuccessAt int64 // unix seconds, 0 = never
	LockedAt      int64 // unix seconds, 0 = not locked

	Version uint64
}

// Clone returns a deep copy so callers never share mutable store state.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// ChallengeState is the state machine position of an out-of-band exchange.
type ChallengeState uint8

const (
	// ChallengePending challenges are waiting for a response.
	ChallengePending ChallengeState = iota
	// ChallengeAnswered is the terminal success state. Reached at most once.
	ChallengeAnswered
	// ChallengeExpired is terminal; entered lazily once ExpiresAt passes.
	ChallengeExpired
	// ChallengeClosed is terminal; entered by explicit cancel or attempt cap.
	ChallengeClosed
)

// Challenge is one pending out-of-band exchange. The expected response is
// held only as a SHA-256 hash; the plaintext is handed to the delivery
// collaborator at issuance and never persisted.
type Challenge struct {
	TransactionID string
	TokenID       string
	Owner         string
	Prompt        string
	ResponseHash  [32]byte
	IssuedAt      int64
	ExpiresAt     int64
	Attempts      int
	State         ChallengeState
	Version       uint64
}

func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Session correlates multi-factor attempts. Satisfied maps a required
// token kind to the token ID that satisfied it.
type Session struct {
	ID            string
	Owner         string
	RequiredKinds []TokenKind
	Satisfied     map[TokenKind]string
	CreatedAt     int64
	ExpiresAt     int64
	Closed        bool
	Version       uint64
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.RequiredKinds = append([]TokenKind(nil), s.RequiredKinds...)
	if s.Satisfied != nil {
		cp.Satisfied = make(map[TokenKind]string, len(s.Satisfied))
		for k, v := range s.Satisfied {
			cp.Satisfied[k] = v
		}
	}
	return &cp
}
