package privacyidea

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runt18/privacyidea/internal/stores"
)

// TokenStore persists token records. Implementations must honor
// compare-and-commit semantics: CompareAndCommit succeeds only if the
// stored version still matches the record's version, and bumps the
// version on success. That single property is what makes replay
// prevention hold under concurrency.
type TokenStore interface {
	Create(ctx context.Context, t *Token) error
	Load(ctx context.Context, id string) (*Token, error)
	CompareAndCommit(ctx context.Context, t *Token) error
	ListByOwner(ctx context.Context, owner string) ([]*Token, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ChallengeStore persists challenge records, keyed by transaction ID.
// The retain duration passed to CompareAndCommit keeps terminal records
// readable past expiry so late responses get a truthful answer.
type ChallengeStore interface {
	Create(ctx context.Context, c *Challenge, retain time.Duration) error
	Load(ctx context.Context, transactionID string) (*Challenge, error)
	CompareAndCommit(ctx context.Context, c *Challenge, retain time.Duration) error
}

// SessionStore persists multi-factor session records.
type SessionStore interface {
	Create(ctx context.Context, s *Session, retain time.Duration) error
	Load(ctx context.Context, id string) (*Session, error)
	CompareAndCommit(ctx context.Context, s *Session, retain time.Duration) error
	Delete(ctx context.Context, id string) (bool, error)
}

// NewMemoryTokenStore returns an in-process TokenStore. Suitable for
// single-instance deployments and tests.
func NewMemoryTokenStore() TokenStore { return stores.NewMemoryTokenStore() }

// NewMemoryChallengeStore returns an in-process ChallengeStore.
func NewMemoryChallengeStore() ChallengeStore { return stores.NewMemoryChallengeStore() }

// NewMemorySessionStore returns an in-process SessionStore.
func NewMemorySessionStore() SessionStore { return stores.NewMemorySessionStore() }

// NewRedisTokenStore returns a TokenStore backed by Redis. Writes use
// WATCH/MULTI so concurrent commits collapse to exactly one winner.
func NewRedisTokenStore(client redis.UniversalClient, prefix string) TokenStore {
	return stores.NewRedisTokenStore(client, prefix)
}

// NewRedisChallengeStore returns a ChallengeStore backed by Redis.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string) ChallengeStore {
	return stores.NewRedisChallengeStore(client, prefix)
}

// NewRedisSessionStore returns a SessionStore backed by Redis.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) SessionStore {
	return stores.NewRedisSessionStore(client, prefix)
}
