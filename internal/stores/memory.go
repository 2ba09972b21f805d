package stores

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStore is the in-process reference implementation of the token
// store contract. Compare-and-commit is serialized by a single mutex, which
// is sufficient to make concurrent commits against the same token linearize:
// the loser observes a version mismatch and gets ErrConflict.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*Token)}
}

// Create inserts a new token record. The stored Version starts at the
// value carried by the record (normally zero).
func (s *MemoryTokenStore) Create(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[t.ID]; ok {
		return ErrExists
	}
	s.tokens[t.ID] = t.Clone()
	return nil
}

// Load returns a copy of the token; callers never share store state.
func (s *MemoryTokenStore) Load(_ context.Context, id string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t.Clone(), nil
}

// CompareAndCommit replaces the stored record iff the stored Version still
// equals t.Version. On success the stored and passed records advance to
// Version+1; on interleaved writes it returns ErrConflict.
func (s *MemoryTokenStore) CompareAndCommit(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tokens[t.ID]
	if !ok {
		return ErrTokenNotFound
	}
	if cur.Version != t.Version {
		return ErrConflict
	}
	t.Version++
	s.tokens[t.ID] = t.Clone()
	return nil
}

// ListByOwner returns copies of all tokens enrolled for the owner.
func (s *MemoryTokenStore) ListByOwner(_ context.Context, owner string) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Token
	for _, t := range s.tokens {
		if t.Owner == owner {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Delete removes a token record; it reports whether one existed.
func (s *MemoryTokenStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return false, nil
	}
	delete(s.tokens, id)
	return true, nil
}

type memoryChallengeEntry struct {
	challenge *Challenge
	dropAt    time.Time
}

// MemoryChallengeStore keeps pending and recently terminal challenges in
// process memory. Terminal records are retained until dropAt so a late
// second respond can still be distinguished from an unknown transaction;
// correctness of expiry never depends on the sweep.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]memoryChallengeEntry
}

// NewMemoryChallengeStore creates an empty in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]memoryChallengeEntry)}
}

func (s *MemoryChallengeStore) Create(_ context.Context, c *Challenge, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[c.TransactionID]; ok {
		return ErrExists
	}
	s.challenges[c.TransactionID] = memoryChallengeEntry{
		challenge: c.Clone(),
		dropAt:    time.Now().Add(retain),
	}
	return nil
}

func (s *MemoryChallengeStore) Load(_ context.Context, transactionID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.challenges[transactionID]
	if !ok || time.Now().After(entry.dropAt) {
		delete(s.challenges, transactionID)
		return nil, ErrChallengeNotFound
	}
	return entry.challenge.Clone(), nil
}

func (s *MemoryChallengeStore) CompareAndCommit(_ context.Context, c *Challenge, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.challenges[c.TransactionID]
	if !ok || time.Now().After(entry.dropAt) {
		delete(s.challenges, c.TransactionID)
		return ErrChallengeNotFound
	}
	if entry.challenge.Version != c.Version {
		return ErrConflict
	}
	c.Version++
	s.challenges[c.TransactionID] = memoryChallengeEntry{
		challenge: c.Clone(),
		dropAt:    time.Now().Add(retain),
	}
	return nil
}

// Sweep drops retained records past their drop time and returns the count
// removed. Purely a memory-hygiene aid.
func (s *MemoryChallengeStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range s.challenges {
		if now.After(entry.dropAt) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed
}

type memorySessionEntry struct {
	session *Session
	dropAt  time.Time
}

// MemorySessionStore keeps multi-factor sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySessionEntry
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySessionEntry)}
}

func (s *MemorySessionStore) Create(_ context.Context, sess *Session, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return ErrExists
	}
	s.sessions[sess.ID] = memorySessionEntry{
		session: sess.Clone(),
		dropAt:  time.Now().Add(retain),
	}
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok || time.Now().After(entry.dropAt) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	return entry.session.Clone(), nil
}

func (s *MemorySessionStore) CompareAndCommit(_ context.Context, sess *Session, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sess.ID]
	if !ok || time.Now().After(entry.dropAt) {
		delete(s.sessions, sess.ID)
		return ErrSessionNotFound
	}
	if entry.session.Version != sess.Version {
		return ErrConflict
	}
	sess.Version++
	s.sessions[sess.ID] = memorySessionEntry{
		session: sess.Clone(),
		dropAt:  time.Now().Add(retain),
	}
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}
