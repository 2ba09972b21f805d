package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casRetries bounds the WATCH loop. A WATCH abort means another writer
// touched the key, which the contract reports as ErrConflict; the retries
// here only absorb aborts caused by unrelated writes to the same key slot.
const casRetries = 1

// RedisTokenStore persists tokens as versioned binary records. Every
// mutation goes through a WATCH/MULTI transaction keyed on the record
// version, which gives the compare-and-commit guarantee across processes.
type RedisTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTokenStore creates a token store on the given client. prefix
// namespaces all keys ("pi" when empty).
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "pi"
	}
	return &RedisTokenStore{redis: client, prefix: prefix}
}

func (s *RedisTokenStore) key(id string) string {
	return s.prefix + ":tok:" + id
}

func (s *RedisTokenStore) ownerKey(owner string) string {
	return s.prefix + ":own:" + owner
}

func (s *RedisTokenStore) Create(ctx context.Context, t *Token) error {
	encoded, err := encodeToken(t)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(t.ID), encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return ErrExists
	}
	if err := s.redis.SAdd(ctx, s.ownerKey(t.Owner), t.ID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisTokenStore) Load(ctx context.Context, id string) (*Token, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decodeToken(data)
}

func (s *RedisTokenStore) CompareAndCommit(ctx context.Context, t *Token) error {
	key := s.key(t.ID)

	for i := 0; i <= casRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			stored, err := decodeToken(data)
			if err != nil {
				return err
			}
			if stored.Version != t.Version {
				return ErrConflict
			}

			next := t.Clone()
			next.Version = t.Version + 1
			encoded, err := encodeToken(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			t.Version++
			return nil
		case errors.Is(err, redis.TxFailedErr):
			// Key changed mid-transaction: by definition a version race.
			if i == casRetries {
				return ErrConflict
			}
		case errors.Is(err, redis.Nil):
			return ErrTokenNotFound
		case errors.Is(err, ErrConflict):
			return ErrConflict
		default:
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	return ErrConflict
}

func (s *RedisTokenStore) ListByOwner(ctx context.Context, owner string) ([]*Token, error) {
	ids, err := s.redis.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	out := make([]*Token, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, id string) (bool, error) {
	t, err := s.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := s.redis.SRem(ctx, s.ownerKey(t.Owner), id).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RedisChallengeStore persists challenges with a TTL covering the exchange
// lifetime plus a retention grace, so terminal states stay observable.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisChallengeStore creates a challenge store on the given client.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "pi"
	}
	return &RedisChallengeStore{redis: client, prefix: prefix}
}

func (s *RedisChallengeStore) key(transactionID string) string {
	return s.prefix + ":chl:" + transactionID
}

func (s *RedisChallengeStore) Create(ctx context.Context, c *Challenge, retain time.Duration) error {
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(c.TransactionID), encoded, retain).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisChallengeStore) Load(ctx context.Context, transactionID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(transactionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decodeChallenge(data)
}

func (s *RedisChallengeStore) CompareAndCommit(ctx context.Context, c *Challenge, retain time.Duration) error {
	key := s.key(c.TransactionID)

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		stored, err := decodeChallenge(data)
		if err != nil {
			return err
		}
		if stored.Version != c.Version {
			return ErrConflict
		}

		next := c.Clone()
		next.Version = c.Version + 1
		encoded, err := encodeChallenge(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, retain)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		c.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, redis.Nil):
		return ErrChallengeNotFound
	default:
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
}

// RedisSessionStore persists multi-factor sessions with TTL-based cleanup.
type RedisSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a session store on the given client.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "pi"
	}
	return &RedisSessionStore{redis: client, prefix: prefix}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + ":ses:" + id
}

func (s *RedisSessionStore) Create(ctx context.Context, sess *Session, retain time.Duration) error {
	encoded, err := encodeSession(sess)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(sess.ID), encoded, retain).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return decodeSession(data)
}

func (s *RedisSessionStore) CompareAndCommit(ctx context.Context, sess *Session, retain time.Duration) error {
	key := s.key(sess.ID)

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		stored, err := decodeSession(data)
		if err != nil {
			return err
		}
		if stored.Version != sess.Version {
			return ErrConflict
		}

		next := sess.Clone()
		next.Version = sess.Version + 1
		encoded, err := encodeSession(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, retain)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		sess.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, redis.Nil):
		return ErrSessionNotFound
	default:
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}
