// Package memory is the in-process session store and embedding cache used
// when Redis is disabled.
package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/docrouter/backend/internal/metrics"
)

const embeddingPrefix = "embedding:"

type Store struct {
	cache *cache.Cache
}

func NewStore(defaultTTL, cleanupInterval time.Duration) *Store {
	return &Store{
		cache: cache.New(defaultTTL, cleanupInterval),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	x, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data := x.([]byte)
	return append([]byte(nil), data...), true, nil
}

// Set stores a copy of value. A ttl of zero never expires.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.Set(key, append([]byte(nil), value...), expiration(ttl))
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *Store) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	x, found := s.cache.Get(embeddingPrefix + key)
	if !found {
		metrics.CacheMisses.WithLabelValues("memory_embedding").Inc()
		return nil, false, nil
	}
	metrics.CacheHits.WithLabelValues("memory_embedding").Inc()
	return append([]float32(nil), x.([]float32)...), true, nil
}

func (s *Store) SetEmbedding(_ context.Context, key string, embedding []float32, ttl time.Duration) error {
	s.cache.Set(embeddingPrefix+key, append([]float32(nil), embedding...), expiration(ttl))
	return nil
}

func (s *Store) Len() int {
	return s.cache.ItemCount()
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}
