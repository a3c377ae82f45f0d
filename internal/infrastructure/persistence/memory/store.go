// Package memory provides an in-process KVStore backed by go-cache.
// It is the default store for short-lived clients and for tests.
package memory

import (
	"context"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/secstate/internal/domain/repository"
)

// Store is a process-local key-value store. Entries never expire on their own.
type Store struct {
	cache *gocache.Cache
}

var _ repository.KVStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Get implements repository.KVStore.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", repository.ErrKeyNotFound
	}
	return v.(string), nil
}

// Set implements repository.KVStore.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.cache.Set(key, value, gocache.NoExpiration)
	return nil
}

// Remove implements repository.KVStore.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Keys implements repository.KVStore. The result is sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
