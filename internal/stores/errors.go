package stores

import "errors"

var (
	// ErrTokenNotFound indicates the token ID is unknown to the store.
	ErrTokenNotFound = errors.New("token not found")
	// ErrChallengeNotFound indicates the transaction ID is unknown to the store.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrSessionNotFound indicates the session ID is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict indicates the record changed since it was loaded; the
	// compare-and-commit did not apply.
	ErrConflict = errors.New("commit conflict")
	// ErrExists indicates a create collided with an existing record.
	ErrExists = errors.New("record already exists")
	// ErrBackend indicates the backing store is unreachable or misbehaving.
	// Always wrapped around the underlying cause.
	ErrBackend = errors.New("store backend unavailable")
)
