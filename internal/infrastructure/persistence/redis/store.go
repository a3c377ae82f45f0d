package redis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/secstate/internal/domain/repository"
)

var _ repository.KVStore = (*Store)(nil)

const scanBatch = 256

// Store is a KVStore on a shared Redis database. The optional prefix
// namespaces keys when several clients share one database.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a Store.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Get implements repository.KVStore.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", repository.ErrKeyNotFound
	}
	return val, err
}

// Set implements repository.KVStore. Entries never expire.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Remove implements repository.KVStore.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Keys implements repository.KVStore using SCAN, so large databases are not blocked.
// In cluster mode every master is scanned.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.prefix+prefix) + "*"

	cluster, ok := s.client.(*redis.ClusterClient)
	if !ok {
		return s.scan(ctx, s.client, match)
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		found, err := s.scan(ctx, node, match)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) scan(ctx context.Context, client redis.Cmdable, match string) ([]string, error) {
	keys := make([]string, 0)
	iter := client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// escapeGlob escapes the SCAN MATCH metacharacters in a literal prefix.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
