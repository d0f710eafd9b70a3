package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSetDelete(t *testing.T) {
	s := NewStore(time.Hour, time.Minute)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "session:a")
	require.NoError(t, err)
	assert.False(t, found)

	value := []byte("payload")
	require.NoError(t, s.Set(ctx, "session:a", value, time.Minute))
	value[0] = 'X'

	got, found, err := s.Get(ctx, "session:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", string(got), "stored value must be a copy")

	require.NoError(t, s.Delete(ctx, "session:a"))
	_, found, _ = s.Get(ctx, "session:a")
	assert.False(t, found)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore(time.Hour, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreEmbeddings(t *testing.T) {
	s := NewStore(time.Hour, time.Minute)
	ctx := context.Background()

	_, found, err := s.GetEmbedding(ctx, "prototype:legal:x")
	require.NoError(t, err)
	assert.False(t, found)

	vec := []float32{1, 2, 3}
	require.NoError(t, s.SetEmbedding(ctx, "prototype:legal:x", vec, 0))

	got, found, err := s.GetEmbedding(ctx, "prototype:legal:x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, vec, got)

	got[0] = 99
	again, _, _ := s.GetEmbedding(ctx, "prototype:legal:x")
	assert.Equal(t, float32(1), again[0])

	// Embeddings and raw keys live in separate namespaces.
	_, found, _ = s.Get(ctx, "prototype:legal:x")
	assert.False(t, found)
	assert.Equal(t, 1, s.Len())
}
