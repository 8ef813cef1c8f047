// Package redis shares token revocations between instances.
package redis

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	goredis "github.com/redis/go-redis/v9"

	auth "github.com/healthapp/go-auth"
)

const defaultPrefix = "auth:revoked:"

// RevocationStore keeps one key per revoked token id. The key expires
// with the token so the set never grows past the live tokens.
type RevocationStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.RevocationStore = (*RevocationStore)(nil)

// Option customizes the store.
type Option func(*RevocationStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RevocationStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock injects the clock used to compute key TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *RevocationStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRevocationStore(client goredis.UniversalClient, opts ...Option) *RevocationStore {
	s := &RevocationStore{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Revoke claims the id with SETNX so concurrent callers across instances
// see exactly one winner.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if tokenID == "" || ttl <= 0 {
		// already expired, validation rejects it anyway
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.prefix+tokenID, until.UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to revoke token")
	}
	return ok, nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to check token revocation")
	}
	return n > 0, nil
}
