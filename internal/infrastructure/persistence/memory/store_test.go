package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/secstate/internal/domain/repository"
)

func TestStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "secstate:token", "v1"))
	require.NoError(t, s.Set(ctx, "secstate:token", "v2"))
	v, err := s.Get(ctx, "secstate:token")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.Remove(ctx, "secstate:token"))
	require.NoError(t, s.Remove(ctx, "secstate:token"))
	_, err = s.Get(ctx, "secstate:token")
	assert.ErrorIs(t, err, repository.ErrKeyNotFound)
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Set(ctx, "secstate:ratelimit:b", "1"))
	require.NoError(t, s.Set(ctx, "secstate:ratelimit:a", "1"))
	require.NoError(t, s.Set(ctx, "other:key", "1"))

	keys, err := s.Keys(ctx, "secstate:")
	require.NoError(t, err)
	assert.Equal(t, []string{"secstate:ratelimit:a", "secstate:ratelimit:b"}, keys)
	assert.Equal(t, 3, s.Len())
}
