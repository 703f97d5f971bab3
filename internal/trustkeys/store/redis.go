package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hcert/internal/trustkeys/models"
)

const cacheKeyPrefix = "hcert:trustkey:"

// Backend is the authoritative store a CachedStore reads through to.
type Backend interface {
	Get(ctx context.Context, kid []byte) (*models.TrustedKey, error)
	List(ctx context.Context) ([]*models.TrustedKey, error)
	Save(ctx context.Context, keys ...*models.TrustedKey) error
	Delete(ctx context.Context, kid []byte) error
}

// CachedStore fronts a Backend with a Redis read-through cache for Get. Writes go to
// the backend first and then evict the cached entries.
type CachedStore struct {
	backend Backend
	client  redis.UniversalClient
	ttl     time.Duration
}

func NewCachedStore(backend Backend, client redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{backend: backend, client: client, ttl: ttl}
}

func cacheKey(kid []byte) string {
	return cacheKeyPrefix + models.EncodeKeyID(kid)
}

func (s *CachedStore) Get(ctx context.Context, kid []byte) (*models.TrustedKey, error) {
	raw, err := s.client.Get(ctx, cacheKey(kid)).Bytes()
	if err == nil {
		var key models.TrustedKey
		if jsonErr := json.Unmarshal(raw, &key); jsonErr == nil {
			return &key, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// cache trouble falls back to the backend
		return s.backend.Get(ctx, kid)
	}

	key, err := s.backend.Get(ctx, kid)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(key); err == nil {
		_ = s.client.Set(ctx, cacheKey(kid), encoded, s.ttl).Err()
	}
	return key, nil
}

func (s *CachedStore) List(ctx context.Context) ([]*models.TrustedKey, error) {
	return s.backend.List(ctx)
}

func (s *CachedStore) Save(ctx context.Context, keys ...*models.TrustedKey) error {
	if err := s.backend.Save(ctx, keys...); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = cacheKey(key.KeyID)
	}
	if err := s.client.Del(ctx, cacheKeys...).Err(); err != nil {
		return fmt.Errorf("evict cached keys: %w", err)
	}
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, kid []byte) error {
	if err := s.backend.Delete(ctx, kid); err != nil {
		return err
	}
	if err := s.client.Del(ctx, cacheKey(kid)).Err(); err != nil {
		return fmt.Errorf("evict cached key: %w", err)
	}
	return nil
}
